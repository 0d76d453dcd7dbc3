package model

import "time"

// Provider identifies an AI extraction vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// ProviderPreference is the fixed order in which platform credentials are
// considered. Earlier providers win over later ones.
var ProviderPreference = []Provider{ProviderAnthropic, ProviderGemini}

// Rank returns the preference rank of p (lower is preferred), or
// len(ProviderPreference) for unknown providers.
func (p Provider) Rank() int {
	for i, pp := range ProviderPreference {
		if pp == p {
			return i
		}
	}
	return len(ProviderPreference)
}

// Known reports whether p is a supported provider.
func (p Provider) Known() bool {
	return p.Rank() < len(ProviderPreference)
}

// PlatformCredential is a provider key owned by the platform.
type PlatformCredential struct {
	ID        string    `json:"id"`
	Provider  Provider  `json:"provider"`
	APIKey    string    `json:"-"`
	Model     string    `json:"model,omitempty"`
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential is what a batch uses to call a provider.
type Credential struct {
	Provider Provider `json:"provider"`
	APIKey   string   `json:"-"`
	Model    string   `json:"model,omitempty"`
}
