// Package extract turns document bytes into structured property records by
// calling an external AI provider.
package extract

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/model"
	"github.com/sells-group/property-import/internal/ocr"
	"github.com/sells-group/property-import/internal/resilience"
)

// Input is one document to extract. Text, when non-empty, is used as is and
// Data is not converted.
type Input struct {
	FileName     string
	MimeType     string
	Data         []byte
	Text         string
	DocumentType model.DocumentType
}

// InputFromTask builds an Input from a materialized file.
func InputFromTask(f model.FileTask) Input {
	return Input{
		FileName:     f.Name,
		MimeType:     f.MimeType,
		Data:         f.Data,
		DocumentType: f.DocumentType,
	}
}

// Gateway resolves credentials and runs extractions.
type Gateway struct {
	credentials *CredentialResolver
	converter   ocr.Converter
	factory     CompleterFactory

	retry      resilience.RetryConfig
	breakers   *resilience.Breakers
	timeout    time.Duration
	minContent int
	perMinute  int

	mu         sync.Mutex
	limiters   map[model.Provider]*rate.Limiter
	completers map[model.Credential]Completer
}

// NewGateway creates a Gateway.
func NewGateway(creds *CredentialResolver, converter ocr.Converter, factory CompleterFactory, cfg config.ExtractConfig) *Gateway {
	return &Gateway{
		credentials: creds,
		converter:   converter,
		factory:     factory,
		retry:       resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		breakers:    resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
		timeout:     cfg.Timeout(),
		minContent:  max(cfg.MinContentChars, 1),
		perMinute:   cfg.RatePerMinute,
		limiters:    make(map[model.Provider]*rate.Limiter),
		completers:  make(map[model.Credential]Completer),
	}
}

// ResolveCredentials picks the credential for a batch.
func (g *Gateway) ResolveCredentials(ctx context.Context, accountID string, supplied *model.Credential) (*Resolution, error) {
	return g.credentials.ResolveCredentials(ctx, accountID, supplied)
}

// Breakers exposes the per-provider circuit breakers.
func (g *Gateway) Breakers() *resilience.Breakers {
	return g.breakers
}

// Extract converts in to text and asks the resolved provider for the
// properties it describes. The result may hold several records.
func (g *Gateway) Extract(ctx context.Context, in Input, res *Resolution) ([]model.ExtractionResult, error) {
	if res == nil {
		return nil, eris.Wrap(model.ErrProviderUnavailable, "extract: no credential resolved")
	}

	text, err := g.documentText(ctx, in)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < g.minContent {
		return nil, eris.Wrapf(model.ErrInsufficientContent, "extract: %s has %d readable characters", in.FileName, n)
	}

	completer, err := g.completer(ctx, res.Credential)
	if err != nil {
		return nil, model.Classify(model.ErrExtraction, err, "extract: create provider client")
	}

	provider := string(res.Credential.Provider)
	prompt := buildPrompt(text, in.DocumentType, in.FileName)
	limiter := g.limiter(res.Credential.Provider)
	breaker := g.breakers.Get(provider)

	retryCfg := g.retry
	retryCfg.OnRetry = resilience.RetryLogger(provider, "extract")

	start := time.Now()
	reply, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "extract: rate limit wait")
		}
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (string, error) {
			callCtx, cancel := g.withDeadline(ctx)
			defer cancel()
			return completer.Complete(callCtx, prompt)
		})
	})
	if err != nil {
		return nil, model.Classify(model.ErrExtraction, err, "extract: "+provider+" call")
	}

	results, err := parseResults(reply)
	if err != nil {
		return nil, model.Classify(model.ErrExtraction, err, "extract: parse "+provider+" reply")
	}
	if len(results) == 0 {
		return nil, model.Classify(model.ErrExtraction, nil, "extract: no properties found in "+in.FileName)
	}

	zap.L().Info("extracted document",
		zap.String("file", in.FileName),
		zap.String("provider", provider),
		zap.Int("records", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Close releases cached provider clients.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for cred, c := range g.completers {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(g.completers, cred)
	}
	return firstErr
}

func (g *Gateway) documentText(ctx context.Context, in Input) (string, error) {
	if in.Text != "" {
		return in.Text, nil
	}
	if len(in.Data) == 0 {
		return "", eris.Wrapf(model.ErrInsufficientContent, "extract: %s is empty", in.FileName)
	}
	text, err := g.converter.ToText(ctx, in.Data, in.MimeType)
	if err != nil {
		return "", model.Classify(model.ErrExtraction, err, "extract: convert "+in.FileName)
	}
	return text, nil
}

func (g *Gateway) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) limiter(p model.Provider) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[p]
	if !ok {
		if g.perMinute <= 0 {
			l = rate.NewLimiter(rate.Inf, 1)
		} else {
			l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.perMinute)), 1)
		}
		g.limiters[p] = l
	}
	return l
}

func (g *Gateway) completer(ctx context.Context, cred model.Credential) (Completer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.completers[cred]; ok {
		return c, nil
	}
	c, err := g.factory(ctx, cred)
	if err != nil {
		return nil, err
	}
	g.completers[cred] = c
	return c, nil
}
