package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialNeverPrinted(t *testing.T) {
	cred := NewCredential("sk-secret-token")

	assert.Equal(t, "sk-secret-token", cred.Reveal())
	assert.NotContains(t, cred.String(), "sk-secret")
	assert.NotContains(t, fmt.Sprintf("%v %s %+v %#v", cred, cred, cred, cred), "sk-secret")

	data, err := json.Marshal(struct {
		Token Credential `json:"token"`
	}{cred})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	assert.True(t, NewCredential("").IsZero())
	assert.False(t, cred.IsZero())
}

func TestDefaultProcessingOptions(t *testing.T) {
	opts := DefaultProcessingOptions()
	assert.True(t, opts.EnableFormula)
	assert.True(t, opts.EnableTable)
	assert.False(t, opts.EnableOCR)
	assert.Equal(t, "auto", opts.Language)
}

func TestTaskStatusIsTerminal(t *testing.T) {
	tests := []struct {
		state    string
		terminal bool
	}{
		{StateWaitingFile, false},
		{StatePending, false},
		{StateRunning, false},
		{StateConverting, false},
		{"something-new", false},
		{StateDone, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.terminal, TaskStatus{State: tt.state}.IsTerminal())
		})
	}
}

func TestSummaryJSON(t *testing.T) {
	t.Run("with images", func(t *testing.T) {
		s := NewSummary(ConversionArtifact{MarkdownPath: "/out/out.md", ImagesDir: "/out/images", ImageCount: 2})
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `{"method":"mineru_api","markdown_path":"/out/out.md","images_dir":"/out/images","image_count":2}`, string(data))
	})

	t.Run("without images", func(t *testing.T) {
		s := NewSummary(ConversionArtifact{MarkdownPath: "/out/out.md"})
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `{"method":"mineru_api","markdown_path":"/out/out.md","images_dir":null,"image_count":0}`, string(data))
	})
}
