package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/model"
	"github.com/sells-group/property-import/internal/resilience"
	"github.com/sells-group/property-import/pkg/anthropic"
	"github.com/sells-group/property-import/pkg/gemini"
)

// Completer sends one extraction prompt to a provider and returns the raw
// text reply.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// CompleterFactory builds a Completer for a resolved credential.
type CompleterFactory func(ctx context.Context, cred model.Credential) (Completer, error)

// NewCompleterFactory returns a factory for the providers configured in cfg.
func NewCompleterFactory(cfg *config.Config) CompleterFactory {
	return func(ctx context.Context, cred model.Credential) (Completer, error) {
		switch cred.Provider {
		case model.ProviderAnthropic:
			return &anthropicCompleter{
				client:    anthropic.NewClient(cred.APIKey),
				model:     firstNonEmpty(cred.Model, cfg.Anthropic.Model),
				maxTokens: cfg.Anthropic.MaxTokens,
			}, nil
		case model.ProviderGemini:
			client, err := gemini.NewClient(ctx, cred.APIKey)
			if err != nil {
				return nil, err
			}
			return &geminiCompleter{
				client:    client,
				model:     firstNonEmpty(cred.Model, cfg.Gemini.Model),
				maxTokens: int32(cfg.Anthropic.MaxTokens),
			}, nil
		default:
			return nil, eris.Wrapf(model.ErrProviderUnavailable, "extract: unsupported provider %q", cred.Provider)
		}
	}
}

type anthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func (c *anthropicCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      anthropic.CachedSystem(p.System),
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return "", resilience.NewTransientError(err, code)
		}
		return "", err
	}
	resp.Usage.LogCost(c.model, "")
	return resp.Text(), nil
}

type geminiCompleter struct {
	client    gemini.Client
	model     string
	maxTokens int32
}

func (c *geminiCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	text, err := c.client.GenerateJSON(ctx, gemini.Request{
		Model:           c.model,
		System:          p.System,
		Prompt:          p.User,
		MaxOutputTokens: c.maxTokens,
	})
	if err != nil {
		if code := gemini.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return "", resilience.NewTransientError(err, code)
		}
		return "", err
	}
	return text, nil
}

func (c *geminiCompleter) Close() error {
	return c.client.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
