package solve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"platesolver/internal/apperrors"
	"platesolver/internal/astrometry"
	"platesolver/internal/config"
	"platesolver/internal/observability"
)

// failureMessage is the user-facing message for every failed solve. The
// classified error code carries the distinguishing detail.
const failureMessage = "Plate solving failed"

// errCancelled is an internal signal; it never escapes the drive loop.
var errCancelled = errors.New("solve cancelled")

// Transport is the subset of the solver API the orchestrator drives.
type Transport interface {
	UploadFile(ctx context.Context, serverURL, path string, opts astrometry.UploadOptions) (int64, error)
	UploadURL(ctx context.Context, serverURL, imageURL string, opts astrometry.UploadOptions) (int64, error)
	GetSubmissionStatus(ctx context.Context, serverURL string, submissionID int64) (*astrometry.SubmissionStatus, error)
	GetJobStatus(ctx context.Context, serverURL string, jobID int64) (astrometry.JobState, error)
	GetJobCalibration(ctx context.Context, serverURL string, jobID int64) (*astrometry.Calibration, error)
	GetJobAnnotations(ctx context.Context, serverURL string, jobID int64) ([]astrometry.Annotation, error)
	GetJobInfo(ctx context.Context, serverURL string, jobID int64) (*astrometry.JobInfo, error)
}

// Sessions supplies an authenticated session token and invalidates it when
// the solver rejects it.
type Sessions interface {
	Ensure(ctx context.Context) (string, error)
	Clear()
}

// Options configure an Orchestrator. Transport, Sessions and Config are
// required; the rest default to no-ops or the system clock.
type Options struct {
	Transport   Transport
	Sessions    Sessions
	Config      *config.SolverConfig
	Clock       Clock
	Events      EventSink
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	EventSource string
}

// Orchestrator runs each accepted solve as an independent state machine and
// publishes every transition as a Patch.
type Orchestrator struct {
	transport Transport
	sessions  Sessions
	cfg       *config.SolverConfig
	clock     Clock
	events    EventSink
	builder   eventBuilder
	metrics   *observability.Metrics
	logger    *slog.Logger

	sem      *semaphore.Weighted
	registry *registry
}

func NewOrchestrator(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.EventSource
	if source == "" {
		source = "platesolver"
	}
	o := &Orchestrator{
		transport: opts.Transport,
		sessions:  opts.Sessions,
		cfg:       opts.Config,
		clock:     clock,
		events:    opts.Events,
		builder:   eventBuilder{source: source},
		metrics:   opts.Metrics,
		logger:    logger.With("component", "solve"),
		registry:  newRegistry(),
	}
	if opts.Config.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrent))
	}
	return o
}

// StartSolve registers the request, emits the pending patch and returns the
// patch channel. The channel receives every transition in order and is
// closed after the terminal patch. It returns an error only when the request
// is rejected up front; every later failure arrives as a failure patch.
func (o *Orchestrator) StartSolve(ctx context.Context, req Request) (<-chan Patch, error) {
	if req.ID == "" {
		return nil, apperrors.Validation("id", "solve id is required")
	}
	if (req.FilePath == "") == (req.ImageURL == "") {
		return nil, apperrors.Validation("source", "exactly one of filePath and imageUrl must be set")
	}

	entry, err := o.registry.register(req.ID, req.Source(), o.clock.Now())
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.RecordSolveStarted(ctx, entry.source)
	}
	o.logger.Info("solve accepted", "solveId", req.ID, "source", entry.source)
	o.emit(entry, req, o.patch(entry, StatusPending))

	go o.drive(entry, req)

	return entry.patches, nil
}

// Cancel requests cancellation of an active solve. The drive loop observes
// the flag at its next checkpoint; the in-flight solver call is not
// interrupted. Unknown or finished ids are a no-op.
func (o *Orchestrator) Cancel(id string) {
	entry, ok := o.registry.release(id)
	if !ok {
		return
	}
	entry.markCancelled()
	o.logger.Info("solve cancellation requested", "solveId", id)
}

// CancelAll cancels every active solve.
func (o *Orchestrator) CancelAll() {
	for _, id := range o.registry.ids() {
		o.Cancel(id)
	}
}

// ActiveCount returns the number of active solves.
func (o *Orchestrator) ActiveCount() int { return o.registry.count() }

// IsActive reports whether the id names an active solve.
func (o *Orchestrator) IsActive(id string) bool {
	_, ok := o.registry.get(id)
	return ok
}

// Snapshot returns the last patch of an active solve.
func (o *Orchestrator) Snapshot(id string) (Patch, bool) {
	entry, ok := o.registry.get(id)
	if !ok {
		return Patch{}, false
	}
	return entry.lastPatch(), true
}

// Snapshots returns the last patch of every active solve.
func (o *Orchestrator) Snapshots() []Patch {
	entries := o.registry.entries()
	out := make([]Patch, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.lastPatch())
	}
	return out
}

// drive runs the full pipeline for one solve. Solver calls use a background
// context so cancellation never aborts a request mid-flight; the cancelled
// flag is checked between steps instead.
func (o *Orchestrator) drive(entry *jobEntry, req Request) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(entry, req, apperrors.Unknown("solve.drive", fmt.Errorf("panic: %v", r)))
		}
	}()
	ctx := context.Background()
	serverURL := o.cfg.EffectiveServerURL()

	if o.sem != nil {
		if err := o.sem.Acquire(entry.ctx, 1); err != nil {
			o.finishCancelled(entry, req)
			return
		}
		defer o.sem.Release(1)
	}
	if entry.cancelled.Load() {
		o.finishCancelled(entry, req)
		return
	}

	token, err := o.sessions.Ensure(ctx)
	if err != nil {
		o.fail(entry, req, err)
		return
	}

	o.emit(entry, req, o.patch(entry, StatusUploading))

	opts := o.uploadOptions(token)
	var submissionID int64
	if req.ImageURL != "" {
		submissionID, err = o.transport.UploadURL(ctx, serverURL, req.ImageURL, opts)
	} else {
		submissionID, err = o.transport.UploadFile(ctx, serverURL, req.FilePath, opts)
	}
	if err != nil {
		o.fail(entry, req, err)
		return
	}
	o.logger.Info("image submitted", "solveId", req.ID, "submissionId", submissionID)

	o.emit(entry, req, o.patch(entry, StatusSubmitted))

	jobID, err := o.awaitJobID(ctx, entry, serverURL, submissionID)
	if errors.Is(err, errCancelled) {
		o.finishCancelled(entry, req)
		return
	}
	if err != nil {
		o.fail(entry, req, err)
		return
	}

	o.emit(entry, req, o.patch(entry, StatusSolving))

	state, err := o.awaitJobCompletion(ctx, entry, serverURL, jobID)
	if errors.Is(err, errCancelled) {
		o.finishCancelled(entry, req)
		return
	}
	if err != nil {
		o.fail(entry, req, err)
		return
	}
	if state != astrometry.JobSuccess {
		o.fail(entry, req, apperrors.Unknown("solve.job", errors.New("solver reported job failure")))
		return
	}

	result, err := o.assembleResult(ctx, serverURL, jobID)
	if err != nil {
		o.fail(entry, req, err)
		return
	}

	patch := o.patch(entry, StatusSuccess)
	patch.Result = result
	o.emit(entry, req, patch)
}

// awaitJobID polls the submission until the solver spawns a job.
func (o *Orchestrator) awaitJobID(ctx context.Context, entry *jobEntry, serverURL string, submissionID int64) (int64, error) {
	for attempt := 0; attempt < o.cfg.MaxPollAttempts; attempt++ {
		if entry.cancelled.Load() {
			return 0, errCancelled
		}
		status, err := o.transport.GetSubmissionStatus(ctx, serverURL, submissionID)
		if err != nil {
			return 0, err
		}
		if len(status.JobIDs) > 0 {
			return status.JobIDs[0], nil
		}
		if o.waitPoll(entry) {
			return 0, errCancelled
		}
	}
	return 0, apperrors.Timeout("solve.awaitJobID", "timed out waiting for the solver to start a job")
}

// awaitJobCompletion polls the job until it reaches a terminal state.
func (o *Orchestrator) awaitJobCompletion(ctx context.Context, entry *jobEntry, serverURL string, jobID int64) (astrometry.JobState, error) {
	for attempt := 0; attempt < o.cfg.MaxPollAttempts; attempt++ {
		if entry.cancelled.Load() {
			return "", errCancelled
		}
		state, err := o.transport.GetJobStatus(ctx, serverURL, jobID)
		if err != nil {
			return "", err
		}
		if state == astrometry.JobSuccess || state == astrometry.JobFailure {
			return state, nil
		}
		if o.waitPoll(entry) {
			return "", errCancelled
		}
	}
	return "", apperrors.Timeout("solve.awaitJobCompletion", "timed out waiting for the solver to finish the job")
}

// waitPoll sleeps one poll interval. It returns true when the solve was
// cancelled while waiting.
func (o *Orchestrator) waitPoll(entry *jobEntry) bool {
	select {
	case <-o.clock.After(o.cfg.PollInterval):
		return entry.cancelled.Load()
	case <-entry.ctx.Done():
		return true
	}
}

// assembleResult gathers calibration, annotations and tags for a solved job.
// Tags merge the solver's free-form tags with its recognized field objects,
// dropping duplicates while keeping first-seen order.
func (o *Orchestrator) assembleResult(ctx context.Context, serverURL string, jobID int64) (*astrometry.Result, error) {
	calibration, err := o.transport.GetJobCalibration(ctx, serverURL, jobID)
	if err != nil {
		return nil, err
	}
	annotations, err := o.transport.GetJobAnnotations(ctx, serverURL, jobID)
	if err != nil {
		return nil, err
	}
	info, err := o.transport.GetJobInfo(ctx, serverURL, jobID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var tags []string
	for _, tag := range append(append([]string{}, info.Tags...), info.ObjectsInField...) {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return &astrometry.Result{
		Calibration: *calibration,
		Annotations: annotations,
		Tags:        tags,
	}, nil
}

func (o *Orchestrator) uploadOptions(token string) astrometry.UploadOptions {
	return astrometry.UploadOptions{
		SessionToken: token,
		ScaleUnits:   string(o.cfg.ScaleUnits),
		ScaleLower:   o.cfg.ScaleLower,
		ScaleUpper:   o.cfg.ScaleUpper,
	}
}

// patch builds the next patch for a status, freezing progress at the last
// reported value for failure and cancellation.
func (o *Orchestrator) patch(entry *jobEntry, status Status) Patch {
	p := Patch{
		SolveID:  entry.id,
		Status:   status,
		Progress: progressFor(status),
		Time:     o.clock.Now(),
	}
	if status == StatusFailure || status == StatusCancelled {
		p.Progress = entry.lastPatch().Progress
	}
	return p
}

// fail classifies the error and emits the failure patch. An auth-classified
// failure also drops the cached session so the next solve logs in afresh.
func (o *Orchestrator) fail(entry *jobEntry, req Request, err error) {
	classified := apperrors.Classify(err)
	if errors.Is(classified, apperrors.ErrAuth) {
		o.sessions.Clear()
	}
	o.logger.Error("solve failed", "solveId", entry.id, "code", classified.Code(), "error", err)

	patch := o.patch(entry, StatusFailure)
	patch.Error = failureMessage
	patch.ErrorCode = classified.Code()
	o.emit(entry, req, patch)
}

func (o *Orchestrator) finishCancelled(entry *jobEntry, req Request) {
	o.emit(entry, req, o.patch(entry, StatusCancelled))
}

// emit publishes a patch: records it as the latest snapshot, sends it on the
// job's channel and forwards it to the callback sink. A terminal patch also
// releases the registry entry and closes the channel. Non-terminal patches
// produced after cancellation are discarded; a terminal one is rewritten to
// cancelled so the channel always ends with exactly one terminal patch.
func (o *Orchestrator) emit(entry *jobEntry, req Request, patch Patch) {
	if entry.cancelled.Load() && patch.Status != StatusCancelled {
		if !patch.Status.Terminal() {
			return
		}
		patch = o.patch(entry, StatusCancelled)
	}
	if patch.Status.Terminal() {
		if entry.closed.Swap(true) {
			return
		}
	}

	entry.setLast(patch)
	entry.patches <- patch
	o.dispatchEvent(req, patch)

	if patch.Status.Terminal() {
		o.registry.release(entry.id)
		close(entry.patches)
		o.recordTerminal(entry, patch)
	}
}

func (o *Orchestrator) recordTerminal(entry *jobEntry, patch Patch) {
	if o.metrics == nil {
		return
	}
	ctx := context.Background()
	switch patch.Status {
	case StatusCancelled:
		o.metrics.RecordSolveCancelled(ctx, entry.source)
	default:
		duration := patch.Time.Sub(entry.started).Seconds()
		o.metrics.RecordSolveCompleted(ctx, entry.source, patch.Status == StatusSuccess, patch.ErrorCode, duration)
	}
}

func (o *Orchestrator) dispatchEvent(req Request, patch Patch) {
	if o.events == nil || req.Callback == nil || req.Callback.URL == "" {
		return
	}
	event := o.builder.build(req, patch)
	if !wantsEvent(event.Type, req.Callback.Events) {
		return
	}
	if err := o.events.Dispatch(req.Callback.URL, req.Callback.Key, event); err != nil {
		o.logger.Warn("event dispatch rejected", "solveId", patch.SolveID, "type", event.Type, "error", err)
	}
}
