package extract

import (
	"cmp"
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/model"
)

// AccountSource reports an account's credential mode. The credit ledger
// satisfies it.
type AccountSource interface {
	Balance(ctx context.Context, accountID string) (*model.CreditAccount, error)
}

// CredentialStore lists platform-owned provider credentials.
type CredentialStore interface {
	ListPlatformCredentials(ctx context.Context, activeOnly bool) ([]model.PlatformCredential, error)
}

// Resolution is the credential a batch will use for every file.
type Resolution struct {
	Credential model.Credential
	// Personal is true when the account supplied its own key. Personal
	// batches are never charged.
	Personal bool
	// CredentialID names the platform credential, empty for personal keys.
	CredentialID string
}

// Chargeable reports whether files extracted under r consume credits.
func (r *Resolution) Chargeable() bool {
	return r != nil && !r.Personal
}

// CredentialResolver picks the credential for a batch.
type CredentialResolver struct {
	accounts  AccountSource
	store     CredentialStore
	fallbacks []model.PlatformCredential
}

// NewCredentialResolver creates a resolver. Fallbacks are considered after
// every stored credential of the same provider.
func NewCredentialResolver(accounts AccountSource, store CredentialStore, fallbacks ...model.PlatformCredential) *CredentialResolver {
	return &CredentialResolver{accounts: accounts, store: store, fallbacks: fallbacks}
}

// FallbackCredentials returns platform credentials configured through keys in
// cfg rather than stored in the database.
func FallbackCredentials(cfg *config.Config) []model.PlatformCredential {
	var out []model.PlatformCredential
	if cfg.Anthropic.Key != "" {
		out = append(out, model.PlatformCredential{
			ID:       "config:anthropic",
			Provider: model.ProviderAnthropic,
			APIKey:   cfg.Anthropic.Key,
			Model:    cfg.Anthropic.Model,
			Priority: -1,
			Active:   true,
		})
	}
	if cfg.Gemini.Key != "" {
		out = append(out, model.PlatformCredential{
			ID:       "config:gemini",
			Provider: model.ProviderGemini,
			APIKey:   cfg.Gemini.Key,
			Model:    cfg.Gemini.Model,
			Priority: -1,
			Active:   true,
		})
	}
	return out
}

// ResolveCredentials decides, once per batch, which credential extracts the
// files. An account in personal mode must supply a key and is never charged;
// any other account gets the best active platform credential, ranked by
// provider preference and then by priority. A key supplied by an account
// outside personal mode is ignored.
func (r *CredentialResolver) ResolveCredentials(ctx context.Context, accountID string, supplied *model.Credential) (*Resolution, error) {
	acct, err := r.accounts.Balance(ctx, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "extract: load account")
	}

	if acct.PersonalCredentialMode {
		if supplied == nil || supplied.APIKey == "" {
			return nil, eris.Wrapf(model.ErrMissingCredential, "extract: account %s", accountID)
		}
		if !supplied.Provider.Known() {
			return nil, eris.Wrapf(model.ErrInvalidRequest, "extract: unknown provider %q", supplied.Provider)
		}
		return &Resolution{Credential: *supplied, Personal: true}, nil
	}

	stored, err := r.store.ListPlatformCredentials(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "extract: list platform credentials")
	}

	best, ok := pickPlatformCredential(append(stored, r.fallbacks...))
	if !ok {
		return nil, eris.Wrap(model.ErrProviderUnavailable, "extract: no active platform credential")
	}

	zap.L().Debug("resolved platform credential",
		zap.String("account_id", accountID),
		zap.String("provider", string(best.Provider)),
		zap.String("credential_id", best.ID),
	)
	return &Resolution{
		Credential:   model.Credential{Provider: best.Provider, APIKey: best.APIKey, Model: best.Model},
		CredentialID: best.ID,
	}, nil
}

// pickPlatformCredential returns the active, known-provider credential with
// the best provider rank, then the highest priority. Ties keep input order.
func pickPlatformCredential(creds []model.PlatformCredential) (model.PlatformCredential, bool) {
	candidates := slices.DeleteFunc(slices.Clone(creds), func(c model.PlatformCredential) bool {
		return !c.Active || c.APIKey == "" || !c.Provider.Known()
	})
	if len(candidates) == 0 {
		return model.PlatformCredential{}, false
	}
	slices.SortStableFunc(candidates, func(a, b model.PlatformCredential) int {
		if c := cmp.Compare(a.Provider.Rank(), b.Provider.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(b.Priority, a.Priority)
	})
	return candidates[0], true
}
