package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-converter/internal/config"
	"github.com/spherical/pdf-converter/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{domain.MissingCredential("no token"), 2},
		{domain.InputNotFound("a.pdf", nil).WithStage(domain.StageValidating), 2},
		{domain.PollTimeout("batch-1", 0), 3},
		{fmt.Errorf("run: %w", domain.Cancelled(nil)), 130},
		{domain.UploadRejected(403, "denied"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), tt.err.Error())
	}
}

func TestDescribeEvent(t *testing.T) {
	assert.Equal(t, "Uploading document", describeEvent(domain.StageEvent{
		Stage: domain.StageUploading,
		Kind:  domain.EventStageStarted,
	}))
	assert.Equal(t, "Waiting for extraction: running (2/5 pages)", describeEvent(domain.StageEvent{
		Stage:    domain.StagePolling,
		Kind:     domain.EventStageProgress,
		Message:  domain.StateRunning,
		Progress: &domain.Progress{ExtractedPages: 2, TotalPages: 5},
	}))
	assert.Equal(t, "Waiting for extraction: pending", describeEvent(domain.StageEvent{
		Stage:   domain.StagePolling,
		Kind:    domain.EventStageProgress,
		Message: domain.StatePending,
	}))
}

func TestOutputDirFor(t *testing.T) {
	cfg = config.DefaultConfig()
	defer func() {
		cfg = nil
		convertOutput = ""
	}()

	input := filepath.Join("docs", "paper.pdf")
	assert.Equal(t, filepath.Join("docs", "paper_output"), outputDirFor(input, false))
	assert.Equal(t, filepath.Join("docs", "paper_output"), outputDirFor(input, true))

	cfg.Output.Dir = "out"
	assert.Equal(t, "out", outputDirFor(input, false))
	assert.Equal(t, filepath.Join("out", "paper_output"), outputDirFor(input, true))

	convertOutput = "flag"
	assert.Equal(t, "flag", outputDirFor(input, false))
	assert.Equal(t, filepath.Join("flag", "paper_output"), outputDirFor(input, true))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", shortID("1234567890"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestRunConvertChecksTokenBeforeHistory(t *testing.T) {
	t.Setenv(config.TokenEnvVar, "")
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfg = config.DefaultConfig()
	cfg.History.Driver = config.HistorySQLite
	cfg.History.SQLitePath = dbPath
	defer func() { cfg = nil }()

	err := runConvert(convertCmd, []string{"paper.pdf"})
	require.Error(t, err)
	assert.Equal(t, domain.KindMissingCredential, domain.KindOf(err))
	assert.Equal(t, 2, ExitCode(err))
	assert.NoFileExists(t, dbPath)

	err = runResume(resumeCmd, []string{"batch-1"})
	assert.Equal(t, domain.KindMissingCredential, domain.KindOf(err))
	assert.NoFileExists(t, dbPath)
}
