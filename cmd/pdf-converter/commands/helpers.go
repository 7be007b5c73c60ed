package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
	"github.com/spherical/pdf-converter/internal/convert"
	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/fetch"
	"github.com/spherical/pdf-converter/internal/history"
	"github.com/spherical/pdf-converter/internal/mineru"
	"github.com/spherical/pdf-converter/internal/pdf"
	"github.com/spherical/pdf-converter/internal/poll"
	"github.com/spherical/pdf-converter/internal/publish"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openHistory opens the configured history store. A store that cannot be
// opened only disables history.
func openHistory(ctx context.Context) history.Store {
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		ui.Warning("History disabled: %v", err)
		logger.Warn().Err(err).Str("driver", cfg.History.Driver).Msg("history store unavailable")
		return history.Nop{}
	}
	return store
}

// newService wires the API client, poller, fetcher and journal into a
// conversion service.
func newService(credential domain.Credential, store history.Store) (*convert.Service, error) {
	client, err := mineru.NewClient(mineru.ClientConfig{
		BaseURL:    cfg.API.BaseURL,
		Credential: credential,
		Timeouts: mineru.Timeouts{
			Submit:   cfg.API.SubmitTimeout,
			Upload:   cfg.API.UploadTimeout,
			Query:    cfg.API.QueryTimeout,
			Download: cfg.API.DownloadTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return convert.NewService(convert.Dependencies{
		Submitter: client,
		Uploader:  client,
		Poller:    poll.NewPoller(client, logger),
		Fetcher:   fetch.NewFetcher(client, logger),
		Validator: pdf.NewValidator(),
		Recorder:  store,
		Logger:    logger,
	}, convert.Options{
		Processing:  cfg.Processing,
		MaxWait:     cfg.Polling.MaxWait,
		Interval:    cfg.Polling.Interval,
		SummaryFile: cfg.Output.SummaryFile,
	}), nil
}

// publishResult copies a finished conversion to S3 when publication is
// enabled. Failures only warn.
func publishResult(ctx context.Context, result *convert.Result) {
	if !cfg.Publish.S3.Enabled {
		return
	}

	publisher, err := publish.NewS3Publisher(ctx, publish.S3Config{
		Bucket:    cfg.Publish.S3.Bucket,
		Prefix:    cfg.Publish.S3.Prefix,
		Region:    cfg.Publish.S3.Region,
		AccessKey: cfg.Publish.S3.AccessKey,
		SecretKey: cfg.Publish.S3.SecretKey,
	}, logger)
	if err != nil {
		ui.Warning("Publishing skipped: %v", err)
		return
	}

	pub, err := publisher.Publish(ctx, result.RunID, result.OutputDir, result.Artifact, result.SummaryPath)
	if err != nil {
		ui.Warning("Publishing failed: %v", err)
		return
	}
	ui.Success("Published %d objects to s3://%s", len(pub.Keys), pub.Bucket)
}

// stageLabel is the short progress text for a stage.
func stageLabel(stage domain.Stage) string {
	switch stage {
	case domain.StageValidating:
		return "Validating input"
	case domain.StageSubmitting:
		return "Requesting upload slot"
	case domain.StageUploading:
		return "Uploading document"
	case domain.StagePolling:
		return "Waiting for extraction"
	case domain.StageFetching:
		return "Downloading results"
	case domain.StagePersisting:
		return "Writing summary"
	case domain.StageDone:
		return "Done"
	default:
		return string(stage)
	}
}

// describeEvent renders an event as a one-line status.
func describeEvent(e domain.StageEvent) string {
	if e.Kind == domain.EventStageProgress {
		if e.Progress != nil && e.Progress.TotalPages > 0 {
			return fmt.Sprintf("%s: %s (%d/%d pages)", stageLabel(e.Stage), e.Message, e.Progress.ExtractedPages, e.Progress.TotalPages)
		}
		return fmt.Sprintf("%s: %s", stageLabel(e.Stage), e.Message)
	}
	return stageLabel(e.Stage)
}

// stepDone reports a finished stage when verbose output is on.
func stepDone(e domain.StageEvent) {
	if ui.Verbose() && e.Message != "" {
		ui.Step("%s: %s", stageLabel(e.Stage), e.Message)
	}
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
