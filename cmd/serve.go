package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/importer"
	"github.com/sells-group/property-import/internal/model"
)

// maxUploadMemory bounds the multipart form kept in memory; larger parts
// spill to temp files until the batch buffers them.
const maxUploadMemory = 32 << 20

// defaultMaxUpload caps the whole request body of an import.
const defaultMaxUpload = 100 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := buildMux(ctx, env, cfg.Server.CORSOrigins)
		return startServer(ctx, mux, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// buildMux creates the API router. With a nil env only the health check is
// mounted.
func buildMux(_ context.Context, env *appEnv, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", "Authorization"},
		MaxAge:         3600,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if env == nil {
		return r
	}

	a := &api{env: env, maxUpload: defaultMaxUpload}
	r.Get("/providers", a.handleProviders)
	r.Route("/imports", func(r chi.Router) {
		r.Post("/", a.handleStartImport)
		r.Get("/history", a.handleHistory)
		r.Route("/current", func(r chi.Router) {
			r.Get("/", a.handleCurrent)
			r.Delete("/", a.handleClear)
			r.Get("/events", a.handleEvents)
			r.Post("/cancel", a.handleCancel)
		})
	})
	r.Get("/accounts/{id}/credits", a.handleCredits)
	r.Get("/accounts/{id}/usage", a.handleUsage)
	r.Get("/properties/{id}", a.handleProperty)
	return r
}

type api struct {
	env       *appEnv
	maxUpload int64
}

func (a *api) handleStartImport(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.maxUpload {
		writeErrorStatus(w, r, http.StatusRequestEntityTooLarge,
			eris.Wrapf(model.ErrInvalidRequest, "serve: upload of %d bytes exceeds %d", r.ContentLength, a.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		err = model.Classify(model.ErrInvalidRequest, err, "serve: parse upload")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorStatus(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	req := importer.Request{
		AccountID: r.FormValue("account_id"),
		Mode:      model.ImportMode(r.FormValue("mode")),
		TargetID:  r.FormValue("target_id"),
		Locale:    requestLocale(r),
	}
	if key := r.FormValue("credential"); key != "" {
		provider := model.Provider(r.FormValue("provider"))
		if provider == "" {
			provider = model.ProviderAnthropic
		}
		req.Credential = &model.Credential{Provider: provider, APIKey: key}
	}

	docType := model.ParseDocumentType(r.FormValue("document_type"))
	for _, field := range []string{"files[]", "files"} {
		for _, fh := range r.MultipartForm.File[field] {
			req.Files = append(req.Files, formUpload(fh, docType))
		}
	}

	job, err := a.env.Orchestrator.Start(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobView(job, a.env.Orchestrator.Events().LastSeq()))
}

func formUpload(fh *multipart.FileHeader, docType model.DocumentType) importer.Upload {
	return importer.Upload{
		Name:         fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		DocumentType: docType,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// currentJob is the polling view of the batch.
type currentJob struct {
	Job      model.BatchJob `json:"job"`
	Status   string         `json:"status"`
	Progress float64        `json:"progress"`
	LastSeq  uint64         `json:"last_seq"`
}

func jobView(job model.BatchJob, lastSeq uint64) currentJob {
	return currentJob{
		Job:      job,
		Status:   importer.StatusMessage(job, job.Locale),
		Progress: job.Progress(),
		LastSeq:  lastSeq,
	}
}

func (a *api) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jobView(a.env.Orchestrator.Snapshot(), a.env.Orchestrator.Events().LastSeq()))
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, r, model.Classify(model.ErrInvalidRequest, err, "serve: since must be a sequence number"))
			return
		}
		since = n
	}
	bus := a.env.Orchestrator.Events()
	events := bus.Since(since)
	if events == nil {
		events = []importer.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"last_seq": bus.LastSeq(),
	})
}

func (a *api) handleCancel(w http.ResponseWriter, _ *http.Request) {
	cancelled := a.env.Orchestrator.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *api) handleClear(w http.ResponseWriter, _ *http.Request) {
	a.env.Orchestrator.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	jobs, err := a.env.Store.ListJobs(r.Context(), model.JobFilter{
		AccountID: q.Get("account_id"),
		State:     model.JobState(q.Get("state")),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.BatchJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *api) handleCredits(w http.ResponseWriter, r *http.Request) {
	acct, err := a.env.Ledger.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   acct,
		"remaining": acct.Remaining(),
		"unlimited": acct.Unlimited(),
	})
}

func (a *api) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.UsageFilter{AccountID: chi.URLParam(r, "id")}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, model.Classify(model.ErrInvalidRequest, err, "serve: since must be RFC 3339"))
			return
		}
		filter.Since = t
	}
	recs, err := a.env.Ledger.Usage(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) handleProperty(w http.ResponseWriter, r *http.Request) {
	rec, err := a.env.Merger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleProviders(w http.ResponseWriter, _ *http.Request) {
	states := map[string]string{}
	if a.env.Breakers != nil {
		for name, s := range a.env.Breakers.States() {
			states[name] = s.String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"circuits": states})
}

// requestLocale prefers an explicit locale form or query value over the
// Accept-Language header.
func requestLocale(r *http.Request) string {
	if l := r.FormValue("locale"); l != "" {
		return l
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidRequest, model.KindMissingCredential:
		return http.StatusBadRequest
	case model.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConcurrentBatch:
		return http.StatusConflict
	case model.KindInsufficientContent, model.KindExtraction, model.KindMerge:
		return http.StatusUnprocessableEntity
	case model.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, statusFor(model.KindOf(err)), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := model.KindOf(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		zap.L().Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": importer.UserMessage(kind, requestLocale(r)),
		"kind":  string(kind),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}
