package convert

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/fakeservice"
	"github.com/spherical/pdf-converter/internal/fetch"
	"github.com/spherical/pdf-converter/internal/history"
	"github.com/spherical/pdf-converter/internal/mineru"
	"github.com/spherical/pdf-converter/internal/pdf"
	"github.com/spherical/pdf-converter/internal/poll"
)

const testToken = "test-token"

type fixture struct {
	svc *Service
	srv *fakeservice.Server
}

func newFixture(t *testing.T, cfg fakeservice.Config, recorder Recorder, maxWait time.Duration) *fixture {
	t.Helper()
	cfg.Token = testToken
	if cfg.Archive == nil {
		cfg.Archive = fakeservice.SampleArchive()
	}
	srv := fakeservice.New(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := mineru.NewClient(mineru.ClientConfig{
		BaseURL:    ts.URL + fakeservice.APIPrefix,
		Credential: domain.NewCredential(testToken),
		HTTPClient: ts.Client(),
	})
	require.NoError(t, err)

	svc := NewService(Dependencies{
		Submitter: client,
		Uploader:  client,
		Poller:    poll.NewPoller(client, nil),
		Fetcher:   fetch.NewFetcher(client, nil),
		Validator: pdf.NewValidatorWithCounter(func(string) (int, error) { return 3, nil }),
		Recorder:  recorder,
	}, Options{
		MaxWait:  maxWait,
		Interval: 10 * time.Millisecond,
	})
	return &fixture{svc: svc, srv: srv}
}

func writePDF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("%PDF-1.7\n"), 256), 0o644))
	return path
}

func drain(events chan domain.StageEvent) []domain.StageEvent {
	close(events)
	var out []domain.StageEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func startedStages(events []domain.StageEvent) []domain.Stage {
	var stages []domain.Stage
	for _, e := range events {
		if e.Kind == domain.EventStageStarted {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

func TestConvertEndToEnd(t *testing.T) {
	f := newFixture(t, fakeservice.Config{
		Steps: []fakeservice.Step{
			{State: domain.StateRunning, Pages: [2]int{1, 3}},
			{State: domain.StateRunning, Pages: [2]int{2, 3}},
			{State: domain.StateDone},
		},
	}, nil, 5*time.Second)

	dir := t.TempDir()
	input := writePDF(t, dir)
	events := make(chan domain.StageEvent, 64)

	result, err := f.svc.Convert(context.Background(), Request{InputPath: input}, events)
	require.NoError(t, err)

	outputDir := filepath.Join(dir, "paper_output")
	assert.Equal(t, outputDir, result.OutputDir)
	assert.Equal(t, filepath.Join(outputDir, "out.md"), result.Artifact.MarkdownPath)
	assert.Equal(t, filepath.Join(outputDir, "images"), result.Artifact.ImagesDir)
	assert.Equal(t, 2, result.Artifact.ImageCount)
	assert.Equal(t, 3, result.Pages)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, domain.BatchHandle("batch-0001"), result.BatchID)
	assert.Empty(t, result.Warnings)

	summary, err := ReadSummary(filepath.Join(outputDir, DefaultSummaryFile))
	require.NoError(t, err)
	assert.Equal(t, domain.MethodMinerUAPI, summary.Method)
	assert.Equal(t, result.Artifact.MarkdownPath, summary.MarkdownPath)
	require.NotNil(t, summary.ImagesDir)
	assert.Equal(t, result.Artifact.ImagesDir, *summary.ImagesDir)
	assert.Equal(t, 2, summary.ImageCount)

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".download-")
		assert.NotContains(t, e.Name(), ".summary-")
	}

	all := drain(events)
	assert.Equal(t, []domain.Stage{
		domain.StageValidating,
		domain.StageSubmitting,
		domain.StageUploading,
		domain.StagePolling,
		domain.StageFetching,
		domain.StagePersisting,
	}, startedStages(all))

	var progress int
	for _, e := range all {
		if e.Kind == domain.EventStageProgress {
			progress++
			require.NotNil(t, e.Progress)
		}
	}
	assert.Equal(t, 2, progress)

	last := all[len(all)-1]
	assert.Equal(t, domain.StageDone, last.Stage)
	assert.Equal(t, domain.EventStageCompleted, last.Kind)

	stats := f.srv.Stats()
	assert.Equal(t, 1, stats.Submits)
	assert.Equal(t, 1, stats.Uploads)
	assert.Equal(t, 3, stats.Queries)
	assert.Equal(t, 1, stats.Downloads)
	assert.Equal(t, "paper.pdf", stats.LastSubmit["files"].([]interface{})[0].(map[string]interface{})["name"])
	assert.Equal(t, result.RunID, stats.LastSubmit["files"].([]interface{})[0].(map[string]interface{})["data_id"])
}

func TestConvertTwiceCreatesDistinctBatches(t *testing.T) {
	f := newFixture(t, fakeservice.Config{}, nil, 5*time.Second)
	dir := t.TempDir()
	input := writePDF(t, dir)

	first, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.NoError(t, err)
	second, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.BatchID, second.BatchID)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, 2, f.srv.Stats().Submits)
}

func TestConvertSummaryWriteFailureIsWarning(t *testing.T) {
	f := newFixture(t, fakeservice.Config{}, nil, 5*time.Second)
	dir := t.TempDir()
	input := writePDF(t, dir)
	outputDir := filepath.Join(dir, "out")

	// A directory in the summary's place makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, DefaultSummaryFile, "blocker"), 0o755))

	result, err := f.svc.Convert(context.Background(), Request{InputPath: input, OutputDir: outputDir}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.SummaryPath)
	require.Len(t, result.Warnings, 1)
	assert.True(t, domain.IsKind(result.Warnings[0], domain.KindSummaryWriteWarning))
	assert.FileExists(t, result.Artifact.MarkdownPath)
}

func TestConvertFailures(t *testing.T) {
	tests := []struct {
		name      string
		cfg       fakeservice.Config
		input     func(t *testing.T, dir string) string
		maxWait   time.Duration
		wantKind  domain.ErrorKind
		wantStage domain.Stage
		submits   int
		uploads   int
	}{
		{
			name:      "missing input",
			input:     func(t *testing.T, dir string) string { return filepath.Join(dir, "missing.pdf") },
			wantKind:  domain.KindInputNotFound,
			wantStage: domain.StageValidating,
		},
		{
			name:      "submission rejected",
			cfg:       fakeservice.Config{SubmitCode: -60005, SubmitMsg: "file too large"},
			wantKind:  domain.KindSubmissionRejected,
			wantStage: domain.StageSubmitting,
			submits:   1,
		},
		{
			name:      "no upload targets",
			cfg:       fakeservice.Config{EmptyTargets: true},
			wantKind:  domain.KindSubmissionEmpty,
			wantStage: domain.StageSubmitting,
			submits:   1,
		},
		{
			name:      "upload rejected",
			cfg:       fakeservice.Config{UploadStatus: 403},
			wantKind:  domain.KindUploadRejected,
			wantStage: domain.StageUploading,
			submits:   1,
			uploads:   1,
		},
		{
			name:      "remote failure",
			cfg:       fakeservice.Config{Steps: []fakeservice.Step{{State: domain.StateRunning}, {State: domain.StateFailed, ErrMsg: "corrupt pdf"}}},
			wantKind:  domain.KindRemoteProcessingFailed,
			wantStage: domain.StagePolling,
			submits:   1,
			uploads:   1,
		},
		{
			name:      "poll timeout",
			cfg:       fakeservice.Config{Steps: []fakeservice.Step{{State: domain.StateRunning}}},
			maxWait:   50 * time.Millisecond,
			wantKind:  domain.KindPollTimeout,
			wantStage: domain.StagePolling,
			submits:   1,
			uploads:   1,
		},
		{
			name:      "done without archive",
			cfg:       fakeservice.Config{Steps: []fakeservice.Step{{State: domain.StateDone, NoURL: true}}},
			wantKind:  domain.KindNoResultURL,
			wantStage: domain.StageFetching,
			submits:   1,
			uploads:   1,
		},
		{
			name:      "archive download fails",
			cfg:       fakeservice.Config{DownloadStatus: 500},
			wantKind:  domain.KindDownloadFailed,
			wantStage: domain.StageFetching,
			submits:   1,
			uploads:   1,
		},
		{
			name:      "archive without markdown",
			cfg:       fakeservice.Config{Archive: mustArchive(t, map[string]string{"layout.json": "{}"})},
			wantKind:  domain.KindExtractionFailed,
			wantStage: domain.StageFetching,
			submits:   1,
			uploads:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxWait := tt.maxWait
			if maxWait == 0 {
				maxWait = 5 * time.Second
			}
			f := newFixture(t, tt.cfg, nil, maxWait)
			dir := t.TempDir()
			input := writePDF(t, dir)
			if tt.input != nil {
				input = tt.input(t, dir)
			}
			events := make(chan domain.StageEvent, 64)

			result, err := f.svc.Convert(context.Background(), Request{InputPath: input}, events)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Equal(t, tt.wantStage, domain.StageOf(err))

			all := drain(events)
			last := all[len(all)-1]
			assert.Equal(t, domain.EventStageFailed, last.Kind)
			assert.Equal(t, tt.wantStage, last.Stage)

			stats := f.srv.Stats()
			assert.Equal(t, tt.submits, stats.Submits)
			assert.Equal(t, tt.uploads, stats.Uploads)

			_, statErr := os.Stat(filepath.Join(dir, "paper_output", DefaultSummaryFile))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func mustArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	data, err := fakeservice.BuildArchive(files)
	require.NoError(t, err)
	return data
}

func TestConvertCancelledWhilePolling(t *testing.T) {
	f := newFixture(t, fakeservice.Config{
		Steps: []fakeservice.Step{{State: domain.StateRunning}},
	}, nil, time.Minute)
	input := writePDF(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := f.svc.Convert(ctx, Request{InputPath: input}, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	assert.Equal(t, domain.StagePolling, domain.StageOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestConvertCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, fakeservice.Config{}, nil, time.Minute)
	input := writePDF(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Convert(ctx, Request{InputPath: input}, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	assert.Equal(t, 0, f.srv.Stats().Submits)
}

func TestResumeAfterTimeout(t *testing.T) {
	f := newFixture(t, fakeservice.Config{
		Steps: []fakeservice.Step{{State: domain.StateRunning}},
	}, nil, 50*time.Millisecond)
	dir := t.TempDir()
	input := writePDF(t, dir)

	_, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.Error(t, err)
	require.Equal(t, domain.KindPollTimeout, domain.KindOf(err))

	f.srv.SetSteps([]fakeservice.Step{{State: domain.StateDone}})
	outputDir := filepath.Join(dir, "resumed")
	events := make(chan domain.StageEvent, 64)

	result, err := f.svc.Resume(context.Background(), "batch-0001", outputDir, events)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchHandle("batch-0001"), result.BatchID)
	assert.Equal(t, filepath.Join(outputDir, "out.md"), result.Artifact.MarkdownPath)
	assert.FileExists(t, filepath.Join(outputDir, DefaultSummaryFile))

	assert.Equal(t, []domain.Stage{
		domain.StagePolling,
		domain.StageFetching,
		domain.StagePersisting,
	}, startedStages(drain(events)))
	assert.Equal(t, 1, f.srv.Stats().Submits)
}

func TestResumeRequiresBatch(t *testing.T) {
	f := newFixture(t, fakeservice.Config{}, nil, time.Second)
	_, err := f.svc.Resume(context.Background(), " ", t.TempDir(), nil)
	assert.Equal(t, domain.KindInvalidConfig, domain.KindOf(err))
}

func TestConvertRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store, err := history.OpenSQL(ctx, "sqlite3", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, fakeservice.Config{}, store, 5*time.Second)
	input := writePDF(t, t.TempDir())

	result, err := f.svc.Convert(ctx, Request{InputPath: input}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings, "journal writes must not warn")

	entry, err := store.Get(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, entry.Stage)
	assert.Equal(t, "batch-0001", entry.BatchID)
	assert.Equal(t, input, entry.InputPath)
	assert.Equal(t, result.Artifact.MarkdownPath, entry.MarkdownPath)
	assert.Equal(t, 2, entry.ImageCount)
	assert.Empty(t, entry.Error)

	byBatch, err := store.FindByBatch(ctx, "batch-0001")
	require.NoError(t, err)
	assert.Equal(t, result.RunID, byBatch.ID)
	assert.Equal(t, filepath.Join(filepath.Dir(input), "paper_output"), byBatch.OutputDir)
}

func TestConvertRecordsPollTimeoutInHistory(t *testing.T) {
	ctx := context.Background()
	store, err := history.OpenSQL(ctx, "sqlite3", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, fakeservice.Config{
		Steps: []fakeservice.Step{{State: domain.StateRunning}},
	}, store, 50*time.Millisecond)
	input := writePDF(t, t.TempDir())

	_, err = f.svc.Convert(ctx, Request{InputPath: input}, nil)
	require.Equal(t, domain.KindPollTimeout, domain.KindOf(err))

	entry, err := store.FindByBatch(ctx, "batch-0001")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, entry.Stage)
	assert.Contains(t, entry.Error, "batch-0001")
}

func TestConvertRecordsFailure(t *testing.T) {
	rec := &memoryRecorder{}
	f := newFixture(t, fakeservice.Config{SubmitCode: -1, SubmitMsg: "quota"}, rec, time.Second)
	input := writePDF(t, t.TempDir())

	_, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []domain.Stage{domain.StageValidating, domain.StageSubmitting, domain.StageFailed}, rec.stages)
	assert.Contains(t, rec.lastError, "quota")
}

func TestConvertJournalsEveryStage(t *testing.T) {
	rec := &memoryRecorder{}
	f := newFixture(t, fakeservice.Config{}, rec, 5*time.Second)
	input := writePDF(t, t.TempDir())

	_, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []domain.Stage{
		domain.StageValidating,
		domain.StageSubmitting,
		domain.StageUploading,
		domain.StagePolling,
		domain.StageFetching,
		domain.StagePersisting,
		domain.StageDone,
	}, rec.stages)
}

func TestRecorderFailureIsWarning(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("disk full")}
	f := newFixture(t, fakeservice.Config{}, rec, 5*time.Second)
	input := writePDF(t, t.TempDir())

	result, err := f.svc.Convert(context.Background(), Request{InputPath: input}, nil)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Error(), "disk full")
	assert.Equal(t, 1, rec.calls)
}

func TestFullEventChannelDoesNotBlock(t *testing.T) {
	f := newFixture(t, fakeservice.Config{}, nil, 5*time.Second)
	input := writePDF(t, t.TempDir())

	events := make(chan domain.StageEvent)
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Convert(context.Background(), Request{InputPath: input}, events)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("conversion blocked on an unread event channel")
	}
}

func TestDefaultOutputDir(t *testing.T) {
	assert.Equal(t, filepath.Join("docs", "paper_output"), DefaultOutputDir(filepath.Join("docs", "paper.pdf")))
	assert.Equal(t, "scan_output", DefaultOutputDir("scan"))
}

type memoryRecorder struct {
	mu        sync.Mutex
	err       error
	calls     int
	stages    []domain.Stage
	lastError string
}

func (m *memoryRecorder) Start(ctx context.Context, entry *history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *memoryRecorder) Update(ctx context.Context, id string, stage domain.Stage, patch history.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.stages = append(m.stages, stage)
	if patch.Error != "" {
		m.lastError = patch.Error
	}
	return nil
}
