package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/model"
)

type fakeAccounts struct {
	personal bool
	err      error
}

func (f *fakeAccounts) Balance(_ context.Context, accountID string) (*model.CreditAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.CreditAccount{AccountID: accountID, PersonalCredentialMode: f.personal}, nil
}

type fakeCredStore struct {
	creds []model.PlatformCredential
	err   error
	calls int
}

func (f *fakeCredStore) ListPlatformCredentials(_ context.Context, _ bool) ([]model.PlatformCredential, error) {
	f.calls++
	return f.creds, f.err
}

func TestResolveCredentials_PersonalWithKey(t *testing.T) {
	store := &fakeCredStore{}
	r := NewCredentialResolver(&fakeAccounts{personal: true}, store)

	res, err := r.ResolveCredentials(context.Background(), "acct", &model.Credential{
		Provider: model.ProviderGemini,
		APIKey:   "user-key",
	})
	require.NoError(t, err)
	assert.True(t, res.Personal)
	assert.False(t, res.Chargeable())
	assert.Equal(t, "user-key", res.Credential.APIKey)
	assert.Zero(t, store.calls, "platform credentials must not be consulted")
}

func TestResolveCredentials_PersonalMissingKey(t *testing.T) {
	r := NewCredentialResolver(&fakeAccounts{personal: true}, &fakeCredStore{})

	for _, supplied := range []*model.Credential{nil, {Provider: model.ProviderAnthropic}} {
		_, err := r.ResolveCredentials(context.Background(), "acct", supplied)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrMissingCredential)
		assert.Equal(t, model.KindMissingCredential, model.KindOf(err))
	}
}

func TestResolveCredentials_PersonalUnknownProvider(t *testing.T) {
	r := NewCredentialResolver(&fakeAccounts{personal: true}, &fakeCredStore{})
	_, err := r.ResolveCredentials(context.Background(), "acct", &model.Credential{Provider: "openai", APIKey: "k"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestResolveCredentials_PlatformOrder(t *testing.T) {
	store := &fakeCredStore{creds: []model.PlatformCredential{
		{ID: "g-high", Provider: model.ProviderGemini, APIKey: "g", Priority: 100, Active: true},
		{ID: "a-low", Provider: model.ProviderAnthropic, APIKey: "a1", Priority: 1, Active: true},
		{ID: "a-high", Provider: model.ProviderAnthropic, APIKey: "a2", Priority: 5, Active: true},
		{ID: "a-inactive", Provider: model.ProviderAnthropic, APIKey: "a3", Priority: 50, Active: false},
	}}
	r := NewCredentialResolver(&fakeAccounts{}, store)

	supplied := &model.Credential{Provider: model.ProviderGemini, APIKey: "ignored"}
	res, err := r.ResolveCredentials(context.Background(), "acct", supplied)
	require.NoError(t, err)
	assert.False(t, res.Personal)
	assert.True(t, res.Chargeable())
	assert.Equal(t, "a-high", res.CredentialID)
	assert.Equal(t, "a2", res.Credential.APIKey)
}

func TestResolveCredentials_FallsBackToNextProvider(t *testing.T) {
	store := &fakeCredStore{creds: []model.PlatformCredential{
		{ID: "g", Provider: model.ProviderGemini, APIKey: "g", Active: true},
	}}
	r := NewCredentialResolver(&fakeAccounts{}, store)

	res, err := r.ResolveCredentials(context.Background(), "acct", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderGemini, res.Credential.Provider)
}

func TestResolveCredentials_ConfigFallback(t *testing.T) {
	cfg := &config.Config{}
	cfg.Anthropic.Key = "cfg-key"
	cfg.Anthropic.Model = "claude-sonnet-4-5-20250929"

	r := NewCredentialResolver(&fakeAccounts{}, &fakeCredStore{}, FallbackCredentials(cfg)...)
	res, err := r.ResolveCredentials(context.Background(), "acct", nil)
	require.NoError(t, err)
	assert.Equal(t, "config:anthropic", res.CredentialID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", res.Credential.Model)

	// A stored credential of the same provider outranks the config key.
	store := &fakeCredStore{creds: []model.PlatformCredential{
		{ID: "db", Provider: model.ProviderAnthropic, APIKey: "db-key", Active: true},
	}}
	r = NewCredentialResolver(&fakeAccounts{}, store, FallbackCredentials(cfg)...)
	res, err = r.ResolveCredentials(context.Background(), "acct", nil)
	require.NoError(t, err)
	assert.Equal(t, "db", res.CredentialID)
}

func TestResolveCredentials_NoneActive(t *testing.T) {
	store := &fakeCredStore{creds: []model.PlatformCredential{
		{ID: "off", Provider: model.ProviderAnthropic, APIKey: "k", Active: false},
		{ID: "unknown", Provider: "openai", APIKey: "k", Active: true},
	}}
	r := NewCredentialResolver(&fakeAccounts{}, store)

	_, err := r.ResolveCredentials(context.Background(), "acct", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestResolveCredentials_StoreErrors(t *testing.T) {
	boom := errors.New("db down")

	r := NewCredentialResolver(&fakeAccounts{err: boom}, &fakeCredStore{})
	_, err := r.ResolveCredentials(context.Background(), "acct", nil)
	assert.ErrorIs(t, err, boom)

	r = NewCredentialResolver(&fakeAccounts{}, &fakeCredStore{err: boom})
	_, err = r.ResolveCredentials(context.Background(), "acct", nil)
	assert.ErrorIs(t, err, boom)
}

func TestFallbackCredentials(t *testing.T) {
	assert.Empty(t, FallbackCredentials(&config.Config{}))

	cfg := &config.Config{}
	cfg.Anthropic.Key = "a"
	cfg.Gemini.Key = "g"
	creds := FallbackCredentials(cfg)
	require.Len(t, creds, 2)
	assert.Equal(t, model.ProviderAnthropic, creds[0].Provider)
	assert.Equal(t, model.ProviderGemini, creds[1].Provider)
}
