// Package importer runs batch property-document imports: one batch at a time,
// files in order, with cooperative cancellation and pushed progress.
package importer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/property-import/internal/extract"
	"github.com/sells-group/property-import/internal/ledger"
	"github.com/sells-group/property-import/internal/model"
	"github.com/sells-group/property-import/internal/property"
)

// Gateway resolves credentials and extracts documents.
type Gateway interface {
	ResolveCredentials(ctx context.Context, accountID string, supplied *model.Credential) (*extract.Resolution, error)
	Extract(ctx context.Context, in extract.Input, res *extract.Resolution) ([]model.ExtractionResult, error)
}

// Ledger checks, charges and audits credits.
type Ledger interface {
	HasEnough(ctx context.Context, accountID string, needed int) (bool, error)
	Consume(ctx context.Context, accountID string, needed int) (bool, error)
	TrackUsage(ctx context.Context, rec model.UsageRecord)
}

// Resolver finds an existing record for an address.
type Resolver interface {
	FindByAddress(ctx context.Context, accountID, address string) (*model.PropertyRecord, error)
}

// Merger creates and updates the batch's target record.
type Merger interface {
	CreateRecord(ctx context.Context, accountID string, result model.ExtractionResult, sourceFile string) (string, error)
	MergeInto(ctx context.Context, targetID string, result model.ExtractionResult, sourceFile string) error
}

// JobRecorder persists job history.
type JobRecorder interface {
	SaveJob(ctx context.Context, job *model.BatchJob) error
}

// Deps are the collaborators of an Orchestrator. Recorder and Notifier are
// optional.
type Deps struct {
	Gateway  Gateway
	Ledger   Ledger
	Resolver Resolver
	Merger   Merger
	Recorder JobRecorder
	Notifier Notifier
}

// Upload is one file of a Start request. Open is called once, during Start.
type Upload struct {
	Name         string
	MimeType     string
	DocumentType model.DocumentType
	Open         func() (io.ReadCloser, error)
}

// BytesUpload wraps in-memory content as an Upload.
func BytesUpload(name, mimeType string, docType model.DocumentType, data []byte) Upload {
	return Upload{
		Name:         name,
		MimeType:     mimeType,
		DocumentType: docType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Request starts a batch.
type Request struct {
	AccountID  string
	Files      []Upload
	Mode       model.ImportMode
	TargetID   string
	Credential *model.Credential
	Locale     string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers a callback that receives every event.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithEventBuffer sets how many events the bus retains.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) { o.events = NewEventBus(n) }
}

// WithDefaultLocale sets the locale used when a request names none.
func WithDefaultLocale(locale string) Option {
	return func(o *Orchestrator) { o.defaultLocale = locale }
}

// run is one execution of the processing loop.
type run struct {
	id        string
	cancelled atomic.Bool
	done      chan struct{}

	// job is the run's own copy of its batch, guarded by Orchestrator.mu.
	// It outlives Clear so the history row still reaches a terminal state.
	job model.BatchJob
}

// Orchestrator owns the single current batch job. Start, Cancel and Clear are
// its only mutators.
type Orchestrator struct {
	deps          Deps
	events        *EventBus
	observer      Observer
	defaultLocale string
	nowFunc       func() time.Time

	mu sync.Mutex
	// job is the current batch. active is the run allowed to update it;
	// running is the loop still executing, which may outlive active after
	// Clear.
	job     model.BatchJob
	active  *run
	running *run
}

// New creates an idle Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:          deps,
		defaultLocale: "en",
		nowFunc:       time.Now,
		job:           model.BatchJob{State: model.JobStateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = NewEventBus(defaultEventBuffer)
	}
	return o
}

// Events returns the progress event bus.
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// Snapshot returns a copy of the current job.
func (o *Orchestrator) Snapshot() model.BatchJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.Clone()
}

// Start validates req, runs pre-flight checks, buffers every file and launches
// the processing loop. Pre-flight failures return before any state changes.
// The loop runs detached from ctx, so the batch survives the caller going
// away.
func (o *Orchestrator) Start(ctx context.Context, req Request) (model.BatchJob, error) {
	if err := o.checkIdle(); err != nil {
		return model.BatchJob{}, err
	}

	req, err := o.normalize(req)
	if err != nil {
		return model.BatchJob{}, err
	}

	res, err := o.deps.Gateway.ResolveCredentials(ctx, req.AccountID, req.Credential)
	if err != nil {
		return model.BatchJob{}, eris.Wrap(err, "importer: resolve credentials")
	}

	files, err := materialize(req.Files)
	if err != nil {
		return model.BatchJob{}, err
	}

	needed := 0
	if res.Chargeable() {
		for _, f := range files {
			needed += ledger.CalculateCost(f.Size(), 0)
		}
		ok, err := o.deps.Ledger.HasEnough(ctx, req.AccountID, needed)
		if err != nil {
			return model.BatchJob{}, eris.Wrap(err, "importer: credit check")
		}
		if !ok {
			return model.BatchJob{}, eris.Wrapf(model.ErrInsufficientCredits, "importer: batch needs %d credits", needed)
		}
	}

	o.mu.Lock()
	if o.job.State == model.JobStateProcessing || o.running != nil {
		o.mu.Unlock()
		return model.BatchJob{}, eris.Wrap(model.ErrConcurrentBatch, "importer: start")
	}
	r := &run{id: uuid.New().String(), done: make(chan struct{})}
	o.job = model.BatchJob{
		ID:                 r.id,
		AccountID:          req.AccountID,
		State:              model.JobStateProcessing,
		Mode:               req.Mode,
		TotalFiles:         len(files),
		CompletedFiles:     []string{},
		TargetRecordID:     req.TargetID,
		PersonalCredential: res.Personal,
		Provider:           res.Credential.Provider,
		Locale:             req.Locale,
		StartedAt:          o.nowFunc().UTC(),
	}
	o.active = r
	o.running = r
	r.job = o.job.Clone()
	job := o.job.Clone()
	o.mu.Unlock()

	zap.L().Info("importer: batch started",
		zap.String("batch_id", r.id),
		zap.String("account_id", req.AccountID),
		zap.String("mode", string(req.Mode)),
		zap.Int("files", len(files)),
		zap.String("provider", string(res.Credential.Provider)),
		zap.Bool("personal_credential", res.Personal),
		zap.Int("credits", needed),
	)

	loopCtx := context.WithoutCancel(ctx)
	o.emit(Event{Type: EventStarted, Job: job})
	o.record(loopCtx, job)

	go o.loop(loopCtx, r, req, files, res)
	return job, nil
}

// Cancel asks the running batch to stop at the next file boundary. An
// extraction already in flight is not interrupted. A loop orphaned by Clear
// is still reachable. It reports whether a running batch was flagged.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.active
	switch {
	case r == nil:
		r = o.running
	case o.job.State != model.JobStateProcessing:
		return false
	}
	if r == nil {
		return false
	}
	r.cancelled.Store(true)
	zap.L().Info("importer: cancel requested",
		zap.String("batch_id", r.id),
		zap.Bool("cleared", o.active == nil),
	)
	return true
}

// Clear resets the job to idle. A loop that is still running is not stopped,
// but it can no longer update the job.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	prev := o.job.ID
	o.job = model.BatchJob{State: model.JobStateIdle}
	o.active = nil
	job := o.job.Clone()
	o.mu.Unlock()

	if prev != "" {
		o.emit(Event{Type: EventCleared, Job: job})
	}
}

// Wait blocks until the running loop exits or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.running
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) checkIdle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job.State == model.JobStateProcessing || o.running != nil {
		return eris.Wrap(model.ErrConcurrentBatch, "importer: start")
	}
	return nil
}

func (o *Orchestrator) normalize(req Request) (Request, error) {
	if req.AccountID == "" {
		return req, eris.Wrap(model.ErrInvalidRequest, "importer: account id is required")
	}
	if len(req.Files) == 0 {
		return req, eris.Wrap(model.ErrInvalidRequest, "importer: no files")
	}
	if req.Mode == "" {
		req.Mode = model.ImportModeNew
	}
	if !req.Mode.Valid() {
		return req, eris.Wrapf(model.ErrInvalidRequest, "importer: unknown mode %q", req.Mode)
	}
	switch req.Mode {
	case model.ImportModeMerge:
		if req.TargetID == "" {
			return req, eris.Wrap(model.ErrInvalidRequest, "importer: merge mode requires a target id")
		}
	case model.ImportModeNew:
		req.TargetID = ""
	}
	if req.Locale == "" {
		req.Locale = o.defaultLocale
	}
	return req, nil
}

// materialize reads every upload into memory so the batch no longer depends
// on the caller's handles.
func materialize(uploads []Upload) ([]model.FileTask, error) {
	files := make([]model.FileTask, 0, len(uploads))
	for i, u := range uploads {
		if u.Open == nil {
			return nil, eris.Wrapf(model.ErrInvalidRequest, "importer: file %d has no content", i)
		}
		rc, err := u.Open()
		if err != nil {
			return nil, model.Classify(model.ErrInvalidRequest, err, "importer: open "+u.Name)
		}
		data, err := io.ReadAll(rc)
		rc.Close() //nolint:errcheck
		if err != nil {
			return nil, model.Classify(model.ErrInvalidRequest, err, "importer: read "+u.Name)
		}
		docType := u.DocumentType
		if docType == "" {
			docType = model.DocumentOther
		}
		files = append(files, model.FileTask{
			Name:         u.Name,
			MimeType:     u.MimeType,
			Data:         data,
			DocumentType: docType,
		})
	}
	return files, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run, req Request, files []model.FileTask, res *extract.Resolution) {
	defer func() {
		o.mu.Lock()
		if o.running == r {
			o.running = nil
		}
		o.mu.Unlock()
		close(r.done)
	}()

	log := zap.L().With(zap.String("batch_id", r.id), zap.String("account_id", req.AccountID))
	target := req.TargetID

	for i, f := range files {
		if r.cancelled.Load() {
			o.finish(ctx, r, model.JobStateCancelled, model.ErrCancelled)
			return
		}

		o.update(ctx, r, Event{Type: EventFileStarted, FileIndex: i, FileName: f.Name}, func(j *model.BatchJob) {
			j.CurrentFileIndex = i
			j.CurrentFileName = f.Name
		})

		started := o.nowFunc()
		credits, err := o.processFile(ctx, r, req, i, f, res, &target)
		elapsed := o.nowFunc().Sub(started).Milliseconds()

		usage := model.UsageRecord{
			AccountID:        req.AccountID,
			BatchID:          r.id,
			OperationType:    f.OperationType(),
			DocumentType:     f.DocumentType,
			FileName:         f.Name,
			FileSizeBytes:    f.Size(),
			CreditsUsed:      credits,
			ProviderUsed:     res.Credential.Provider,
			Success:          err == nil,
			ProcessingTimeMs: elapsed,
		}
		if err != nil {
			usage.CreditsUsed = 0
			usage.ErrorMessage = err.Error()
		}
		o.deps.Ledger.TrackUsage(ctx, usage)

		if err != nil {
			log.Error("importer: file failed",
				zap.Int("index", i),
				zap.String("file", f.Name),
				zap.String("kind", string(model.KindOf(err))),
				zap.Error(err),
			)
			o.finish(ctx, r, model.JobStateFailed, err)
			return
		}

		log.Info("importer: file completed",
			zap.Int("index", i),
			zap.String("file", f.Name),
			zap.String("target_record_id", target),
			zap.Int("credits", credits),
			zap.Int64("duration_ms", elapsed),
		)
		o.update(ctx, r, Event{Type: EventFileCompleted, FileIndex: i, FileName: f.Name}, func(j *model.BatchJob) {
			j.CompletedFiles = append(j.CompletedFiles, f.Name)
			j.ProcessedFiles++
			j.CreditsCharged += credits
		})
	}

	o.finish(ctx, r, model.JobStateCompleted, nil)
}

// processFile extracts, merges and charges one file. It returns the credits
// charged.
func (o *Orchestrator) processFile(ctx context.Context, r *run, req Request, i int, f model.FileTask, res *extract.Resolution, target *string) (int, error) {
	results, err := o.deps.Gateway.Extract(ctx, extract.InputFromTask(f), res)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, model.Classify(model.ErrExtraction, nil, "importer: no properties in "+f.Name)
	}
	primary := results[0]

	if i == 0 && req.Mode == model.ImportModeNew {
		if err := o.resolveTarget(ctx, r, req.AccountID, f, primary, target); err != nil {
			return 0, err
		}
	} else if err := o.deps.Merger.MergeInto(ctx, *target, primary, f.Name); err != nil {
		return 0, err
	}

	for _, extra := range results[1:] {
		if !sameProperty(primary, extra) {
			zap.L().Info("importer: skipping additional property in document",
				zap.String("batch_id", r.id),
				zap.String("file", f.Name),
				zap.String("address", extra.Address()),
			)
			continue
		}
		if err := o.deps.Merger.MergeInto(ctx, *target, extra, f.Name); err != nil {
			return 0, err
		}
	}

	if !res.Chargeable() {
		return 0, nil
	}
	cost := ledger.CalculateCost(f.Size(), 0)
	ok, err := o.deps.Ledger.Consume(ctx, req.AccountID, cost)
	if err != nil {
		return 0, eris.Wrap(err, "importer: charge credits")
	}
	if !ok {
		return 0, eris.Wrapf(model.ErrInsufficientCredits, "importer: charge %d credits for %s", cost, f.Name)
	}
	return cost, nil
}

// resolveTarget picks the batch target on file 0 in new mode: an existing
// record with the same address, or a freshly created one.
func (o *Orchestrator) resolveTarget(ctx context.Context, r *run, accountID string, f model.FileTask, primary model.ExtractionResult, target *string) error {
	dup, err := o.deps.Resolver.FindByAddress(ctx, accountID, primary.Address())
	if err != nil {
		return model.Classify(model.ErrMerge, err, "importer: duplicate lookup")
	}

	if dup != nil {
		*target = dup.ID
		o.update(ctx, r, Event{Type: EventDuplicateDetected, FileName: f.Name}, func(j *model.BatchJob) {
			j.TargetRecordID = dup.ID
			j.DuplicateDetected = true
			j.DuplicateAddress = dup.Address
		})
		return o.deps.Merger.MergeInto(ctx, dup.ID, primary, f.Name)
	}

	id, err := o.deps.Merger.CreateRecord(ctx, accountID, primary, f.Name)
	if err != nil {
		return err
	}
	*target = id
	o.mutate(r, func(j *model.BatchJob) { j.TargetRecordID = id })
	return nil
}

// sameProperty reports whether extra describes the same property as primary:
// it either carries no address or one that normalizes identically.
func sameProperty(primary, extra model.ExtractionResult) bool {
	addr := property.NormalizeAddress(extra.Address())
	return addr == "" || addr == property.NormalizeAddress(primary.Address())
}

// mutate applies fn to the run's copy of its batch and, if r still owns the
// current job, to the job too. It returns a snapshot and whether r owns it.
func (o *Orchestrator) mutate(r *run, fn func(j *model.BatchJob)) (model.BatchJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		fn(&r.job)
		return r.job.Clone(), false
	}
	fn(&o.job)
	r.job = o.job.Clone()
	return o.job.Clone(), true
}

// update mutates the job, then publishes e and records the new snapshot.
func (o *Orchestrator) update(ctx context.Context, r *run, e Event, fn func(j *model.BatchJob)) {
	job, ok := o.mutate(r, fn)
	if !ok {
		return
	}
	e.Job = job
	o.emit(e)
	o.record(ctx, job)
}

// finish moves the job to a terminal state. A cleared batch is only
// recorded, so its history row does not stay processing.
func (o *Orchestrator) finish(ctx context.Context, r *run, state model.JobState, cause error) {
	var locale string
	job, ok := o.mutate(r, func(j *model.BatchJob) {
		if !j.State.CanTransition(state) {
			return
		}
		now := o.nowFunc().UTC()
		j.State = state
		j.FinishedAt = &now
		j.CurrentFileName = ""
		if cause != nil {
			j.ErrorKind = model.KindOf(cause)
			j.Error = UserMessage(j.ErrorKind, j.Locale)
		}
		locale = j.Locale
	})

	fields := []zap.Field{
		zap.String("batch_id", r.id),
		zap.String("state", string(state)),
		zap.Bool("cleared", !ok),
	}
	if !ok {
		zap.L().Info("importer: batch finished after clear", fields...)
		o.record(ctx, job)
		return
	}
	fields = append(fields,
		zap.Int("processed", job.ProcessedFiles),
		zap.Int("total", job.TotalFiles),
		zap.Int("credits", job.CreditsCharged),
	)
	zap.L().Info("importer: batch finished", fields...)

	o.emit(Event{Type: terminalEvents[state], Job: job, Message: StatusMessage(job, locale)})
	o.record(ctx, job)

	if o.deps.Notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := o.deps.Notifier.Notify(nctx, job); err != nil {
			zap.L().Warn("importer: completion notification failed", zap.String("batch_id", job.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) emit(e Event) {
	e = o.events.Publish(e)
	if o.observer != nil {
		o.observer(e)
	}
}

func (o *Orchestrator) record(ctx context.Context, job model.BatchJob) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.SaveJob(ctx, &job); err != nil {
		zap.L().Warn("importer: save job failed", zap.String("batch_id", job.ID), zap.Error(err))
	}
}
