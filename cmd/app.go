package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-import/internal/extract"
	"github.com/sells-group/property-import/internal/importer"
	"github.com/sells-group/property-import/internal/ledger"
	"github.com/sells-group/property-import/internal/ocr"
	"github.com/sells-group/property-import/internal/property"
	"github.com/sells-group/property-import/internal/resilience"
	"github.com/sells-group/property-import/internal/store"
)

// appEnv holds the store, the ledger and the orchestrator needed by the
// serve and import commands.
type appEnv struct {
	Store        store.Store
	Ledger       *ledger.Ledger
	Merger       *property.Merger
	Orchestrator *importer.Orchestrator
	Breakers     *resilience.Breakers // may be nil

	closers []io.Closer
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for _, c := range e.closers {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newAppEnv wires the orchestrator around st and gw. Notifier may be nil.
func newAppEnv(st store.Store, led *ledger.Ledger, gw importer.Gateway, notifier importer.Notifier, opts ...importer.Option) *appEnv {
	merger := property.NewMerger(st)
	orch := importer.New(importer.Deps{
		Gateway:  gw,
		Ledger:   led,
		Resolver: property.NewResolver(st),
		Merger:   merger,
		Recorder: st,
		Notifier: notifier,
	}, opts...)
	return &appEnv{
		Store:        st,
		Ledger:       led,
		Merger:       merger,
		Orchestrator: orch,
	}
}

// initApp validates config for mode, opens the store and builds the
// extraction gateway and orchestrator. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, opts ...importer.Option) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	converter, err := ocr.NewConverter(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init converter")
	}

	led := ledger.New(st, cfg.Ledger.ResetPeriod())
	creds := extract.NewCredentialResolver(led, st, extract.FallbackCredentials(cfg)...)
	gw := extract.NewGateway(creds, converter, extract.NewCompleterFactory(cfg), cfg.Extract)

	var notifier importer.Notifier
	if n := importer.NewWebhookNotifier(cfg.Importer.NotifyWebhookURL); n != nil {
		notifier = n
	}

	opts = append([]importer.Option{
		importer.WithEventBuffer(cfg.Importer.EventBuffer),
		importer.WithDefaultLocale(cfg.Importer.DefaultLocale),
	}, opts...)

	env := newAppEnv(st, led, gw, notifier, opts...)
	env.Breakers = gw.Breakers()
	env.closers = append(env.closers, gw)
	return env, nil
}
