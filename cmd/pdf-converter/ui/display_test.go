package ui

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	t.Cleanup(func() {
		SetOutput(os.Stdout, os.Stderr)
		InitUI(false, false)
	})
	return &out, &errOut
}

func TestMessagesGoToTheirStreams(t *testing.T) {
	out, errOut := captureOutput(t)
	InitUI(true, false)

	Success("converted %d files", 2)
	Step("fetching")
	Error("Error: %s", "quota exceeded")
	Warning("summary not written")

	assert.Equal(t, "✓ converted 2 files\n→ fetching\n", out.String())
	assert.Equal(t, "✗ Error: quota exceeded\n⚠ summary not written\n", errOut.String())
}

func TestVerbose(t *testing.T) {
	captureOutput(t)

	InitUI(true, true)
	assert.True(t, Verbose())

	InitUI(true, false)
	assert.False(t, Verbose())
}

func TestTableAlignsColumns(t *testing.T) {
	out, _ := captureOutput(t)
	InitUI(true, false)

	Table([]string{"Metric", "Value"}, [][]string{{"Images", "2"}})

	assert.Equal(t, "Metric  Value\n------  -----\nImages  2\n", out.String())
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBytes(in), in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", FormatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatDuration(time.Hour+time.Second))
}
