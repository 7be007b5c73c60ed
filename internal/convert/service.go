// Package convert runs the end-to-end conversion of one document: validate,
// submit, upload, wait, fetch and persist a summary.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/fetch"
	"github.com/spherical/pdf-converter/internal/history"
	"github.com/spherical/pdf-converter/internal/observability"
	"github.com/spherical/pdf-converter/internal/pdf"
	"github.com/spherical/pdf-converter/internal/poll"
)

// DefaultSummaryFile is the summary record written next to the artifact.
const DefaultSummaryFile = "conversion_info.json"

// InputValidator checks a local document before submission.
type InputValidator interface {
	Validate(path string) (*pdf.Document, []string, error)
}

// Awaiter waits for a batch to finish.
type Awaiter interface {
	AwaitCompletion(ctx context.Context, batch domain.BatchHandle, maxWait, interval time.Duration, onProgress poll.Observer) (domain.ResultDescriptor, error)
}

// Unpacker fetches and extracts a finished batch.
type Unpacker interface {
	FetchAndUnpack(ctx context.Context, desc domain.ResultDescriptor, outputDir string, progress fetch.ProgressFunc) (domain.ConversionArtifact, error)
}

// Recorder journals stage transitions.
type Recorder interface {
	Start(ctx context.Context, entry *history.Entry) error
	Update(ctx context.Context, id string, stage domain.Stage, patch history.Patch) error
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Submitter domain.Submitter
	Uploader  domain.Uploader
	Poller    Awaiter
	Fetcher   Unpacker
	Validator InputValidator
	Recorder  Recorder
	Logger    *observability.Logger
}

// Options holds per-service defaults.
type Options struct {
	Processing  domain.ProcessingOptions
	MaxWait     time.Duration
	Interval    time.Duration
	SummaryFile string
}

// Request describes one conversion.
type Request struct {
	InputPath string
	// OutputDir defaults to <input-dir>/<stem>_output.
	OutputDir string
	// Options overrides the service processing defaults when set.
	Options *domain.ProcessingOptions
	// OnDownload receives archive download progress.
	OnDownload fetch.ProgressFunc
}

// Result is a successful conversion.
type Result struct {
	RunID       string
	BatchID     domain.BatchHandle
	OutputDir   string
	Artifact    domain.ConversionArtifact
	SummaryPath string // empty when the summary could not be written
	Pages       int
	Warnings    []error
	Duration    time.Duration
}

// Service orchestrates conversions. A Service holds no per-run state and
// may run several conversions concurrently.
type Service struct {
	submitter domain.Submitter
	uploader  domain.Uploader
	poller    Awaiter
	fetcher   Unpacker
	validator InputValidator
	recorder  Recorder
	logger    *observability.Logger
	opts      Options
}

// NewService creates a conversion service.
func NewService(deps Dependencies, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = history.Nop{}
	}
	validator := deps.Validator
	if validator == nil {
		validator = pdf.NewValidator()
	}
	if opts.SummaryFile == "" {
		opts.SummaryFile = DefaultSummaryFile
	}
	if opts.Processing.Language == "" {
		opts.Processing = domain.DefaultProcessingOptions()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Minute
	}

	return &Service{
		submitter: deps.Submitter,
		uploader:  deps.Uploader,
		poller:    deps.Poller,
		fetcher:   deps.Fetcher,
		validator: validator,
		recorder:  recorder,
		logger:    logger.WithOperation("convert"),
		opts:      opts,
	}
}

// run carries the state of one conversion.
type run struct {
	id        string
	outputDir string
	events    chan<- domain.StageEvent
	batch     domain.BatchHandle
	result    *Result
	recording bool
	started   time.Time
}

// Convert runs Validating → Submitting → Uploading → Polling → Fetching →
// Persisting → Done. The first failing stage aborts the rest.
func (s *Service) Convert(ctx context.Context, req Request, events chan<- domain.StageEvent) (*Result, error) {
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir(req.InputPath)
	}

	r, ctx := s.newRun(ctx, outputDir, events)
	s.record(ctx, r, func() error {
		return s.recorder.Start(ctx, &history.Entry{ID: r.id, InputPath: req.InputPath, OutputDir: outputDir})
	})

	opts := s.opts.Processing
	if req.Options != nil {
		opts = *req.Options
	}

	// Validating
	if err := s.enter(ctx, r, domain.StageValidating, ""); err != nil {
		return nil, s.fail(ctx, r, domain.StageValidating, err)
	}
	doc, warnings, err := s.validator.Validate(req.InputPath)
	if err != nil {
		return nil, s.fail(ctx, r, domain.StageValidating, err)
	}
	for _, w := range warnings {
		r.result.Warnings = append(r.result.Warnings, errors.New(w))
		s.logger.WithContext(ctx).Warn().Str("input", doc.Path).Msg(w)
	}
	r.result.Pages = doc.Pages
	s.logger.WithContext(ctx).Debug().Str("input", doc.Path).Int("pages", doc.Pages).Int64("bytes", doc.Size).Msg("input validated")
	s.complete(r, domain.StageValidating, fmt.Sprintf("%s (%d bytes)", doc.Name, doc.Size))

	// Submitting
	if err := s.enter(ctx, r, domain.StageSubmitting, ""); err != nil {
		return nil, s.fail(ctx, r, domain.StageSubmitting, err)
	}
	batch, target, err := s.submitter.Submit(ctx, doc.Name, opts)
	if err != nil {
		return nil, s.fail(ctx, r, domain.StageSubmitting, err)
	}
	r.batch = batch
	r.result.BatchID = batch
	s.complete(r, domain.StageSubmitting, "batch "+batch.String())

	// Uploading
	if err := s.enter(ctx, r, domain.StageUploading, batch.String()); err != nil {
		return nil, s.fail(ctx, r, domain.StageUploading, err)
	}
	if err := s.uploader.Upload(ctx, doc.Path, target); err != nil {
		return nil, s.fail(ctx, r, domain.StageUploading, err)
	}
	s.complete(r, domain.StageUploading, "")

	return s.finish(ctx, r, req.OnDownload)
}

// Resume runs Polling → Fetching → Persisting → Done for a batch submitted
// earlier, for example after a poll timeout.
func (s *Service) Resume(ctx context.Context, batch domain.BatchHandle, outputDir string, events chan<- domain.StageEvent) (*Result, error) {
	if strings.TrimSpace(batch.String()) == "" {
		return nil, domain.InvalidConfig("batch id is required", nil)
	}
	if outputDir == "" {
		outputDir = batch.String() + "_output"
	}

	r, ctx := s.newRun(ctx, outputDir, events)
	r.batch = batch
	r.result.BatchID = batch
	s.record(ctx, r, func() error {
		return s.recorder.Start(ctx, &history.Entry{ID: r.id, OutputDir: outputDir, BatchID: batch.String(), Stage: domain.StagePolling})
	})

	return s.finish(ctx, r, nil)
}

// finish runs the stages shared by Convert and Resume.
func (s *Service) finish(ctx context.Context, r *run, onDownload fetch.ProgressFunc) (*Result, error) {
	logger := s.logger.WithContext(ctx).WithBatch(r.batch.String())

	// Polling
	if err := s.enter(ctx, r, domain.StagePolling, r.batch.String()); err != nil {
		return nil, s.fail(ctx, r, domain.StagePolling, err)
	}
	desc, err := s.poller.AwaitCompletion(ctx, r.batch, s.opts.MaxWait, s.opts.Interval, func(status domain.TaskStatus) {
		s.emitEvent(r.events, domain.StageEvent{
			Stage:     domain.StagePolling,
			Kind:      domain.EventStageProgress,
			Message:   status.State,
			BatchID:   r.batch,
			Progress:  status.Progress,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return nil, s.fail(ctx, r, domain.StagePolling, err)
	}
	s.complete(r, domain.StagePolling, "")

	// Fetching
	if err := s.enter(ctx, r, domain.StageFetching, ""); err != nil {
		return nil, s.fail(ctx, r, domain.StageFetching, err)
	}
	artifact, err := s.fetcher.FetchAndUnpack(ctx, desc, r.outputDir, onDownload)
	if err != nil {
		return nil, s.fail(ctx, r, domain.StageFetching, err)
	}
	r.result.Artifact = artifact
	if abs, err := filepath.Abs(r.outputDir); err == nil {
		r.result.OutputDir = abs
	}
	s.complete(r, domain.StageFetching, fmt.Sprintf("%d images", artifact.ImageCount))

	// Persisting: the artifact already exists, so a failed write only warns.
	s.mark(ctx, r, domain.StagePersisting, "")
	summaryPath := filepath.Join(r.result.OutputDir, s.opts.SummaryFile)
	if err := writeSummary(summaryPath, domain.NewSummary(artifact)); err != nil {
		warning := domain.SummaryWriteWarning(summaryPath, err).WithStage(domain.StagePersisting)
		r.result.Warnings = append(r.result.Warnings, warning)
		logger.Warn().Err(warning).Msg("summary not written")
	} else {
		r.result.SummaryPath = summaryPath
	}
	s.complete(r, domain.StagePersisting, "")

	// Done
	s.record(ctx, r, func() error {
		return s.recorder.Update(ctx, r.id, domain.StageDone, history.Patch{Artifact: &artifact})
	})
	r.result.Duration = time.Since(r.started)
	s.emitEvent(r.events, domain.StageEvent{
		Stage:     domain.StageDone,
		Kind:      domain.EventStageCompleted,
		Message:   artifact.MarkdownPath,
		BatchID:   r.batch,
		Timestamp: time.Now(),
	})

	logger.Info().
		Str("markdown", artifact.MarkdownPath).
		Int("images", artifact.ImageCount).
		Dur("duration", r.result.Duration).
		Msg("conversion complete")

	return r.result, nil
}

func (s *Service) newRun(ctx context.Context, outputDir string, events chan<- domain.StageEvent) (*run, context.Context) {
	id := uuid.NewString()
	r := &run{
		id:        id,
		outputDir: outputDir,
		events:    events,
		recording: true,
		started:   time.Now(),
		result:    &Result{RunID: id, OutputDir: outputDir},
	}
	return r, observability.ContextWithRunID(ctx, id)
}

// enter marks the start of a stage. It fails when the caller has already
// abandoned the conversion.
func (s *Service) enter(ctx context.Context, r *run, stage domain.Stage, batch string) error {
	if err := ctx.Err(); err != nil {
		return domain.Cancelled(err)
	}
	s.mark(ctx, r, stage, batch)
	return nil
}

// mark journals and announces a stage without checking for cancellation.
func (s *Service) mark(ctx context.Context, r *run, stage domain.Stage, batch string) {
	s.record(ctx, r, func() error {
		return s.recorder.Update(ctx, r.id, stage, history.Patch{BatchID: batch})
	})

	s.logger.WithContext(ctx).Debug().Str("stage", string(stage)).Msg("stage started")
	s.emitEvent(r.events, domain.StageEvent{
		Stage:     stage,
		Kind:      domain.EventStageStarted,
		BatchID:   r.batch,
		Timestamp: time.Now(),
	})
}

func (s *Service) complete(r *run, stage domain.Stage, msg string) {
	s.emitEvent(r.events, domain.StageEvent{
		Stage:     stage,
		Kind:      domain.EventStageCompleted,
		Message:   msg,
		BatchID:   r.batch,
		Timestamp: time.Now(),
	})
}

// fail tags err with its stage, journals it and emits the failure event.
func (s *Service) fail(ctx context.Context, r *run, stage domain.Stage, err error) error {
	var tagged *domain.Error
	if !errors.As(err, &tagged) {
		tagged = domain.NewError(domain.KindTransport, "unexpected failure", err)
	}
	tagged = tagged.WithStage(stage)

	// Journal with a fresh context so a cancelled run is still recorded.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.record(recordCtx, r, func() error {
		return s.recorder.Update(recordCtx, r.id, domain.StageFailed, history.Patch{Error: tagged.Error()})
	})

	s.logger.WithContext(ctx).Error().
		Err(tagged).
		Str("stage", string(stage)).
		Str("kind", string(tagged.Kind)).
		Msg("conversion failed")

	s.emitEvent(r.events, domain.StageEvent{
		Stage:     stage,
		Kind:      domain.EventStageFailed,
		Message:   tagged.Error(),
		BatchID:   r.batch,
		Timestamp: time.Now(),
	})
	return tagged
}

// record calls fn against the journal. The first failure becomes a warning
// and disables journaling for the rest of the run.
func (s *Service) record(ctx context.Context, r *run, fn func() error) {
	if !r.recording {
		return
	}
	if err := fn(); err != nil {
		r.recording = false
		r.result.Warnings = append(r.result.Warnings, fmt.Errorf("history journal: %w", err))
		s.logger.WithContext(ctx).Warn().Err(err).Msg("history journal unavailable")
	}
}

// emitEvent sends event without blocking; a full channel drops it.
func (s *Service) emitEvent(eventCh chan<- domain.StageEvent, event domain.StageEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Warn().Str("stage", string(event.Stage)).Str("kind", string(event.Kind)).Msg("event channel full, dropping event")
		}
	}
}

// DefaultOutputDir returns <input-dir>/<stem>_output.
func DefaultOutputDir(inputPath string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(filepath.Dir(inputPath), stem+"_output")
}
