package domain

import (
	"encoding/json"
	"time"
)

// MethodMinerUAPI tags conversions produced by the remote extraction API.
const MethodMinerUAPI = "mineru_api"

// Credential is the bearer token for the extraction service. It prints
// and marshals redacted; Reveal returns the raw token.
type Credential struct {
	token string
}

// NewCredential wraps a raw token.
func NewCredential(token string) Credential {
	return Credential{token: token}
}

// Reveal returns the raw token.
func (c Credential) Reveal() string { return c.token }

// IsZero reports whether no token was supplied.
func (c Credential) IsZero() bool { return c.token == "" }

func (c Credential) String() string {
	if c.token == "" {
		return ""
	}
	return "[redacted]"
}

func (c Credential) GoString() string { return "domain.Credential{" + c.String() + "}" }

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// ProcessingOptions are the recognized remote processing options.
type ProcessingOptions struct {
	EnableFormula bool   `json:"enable_formula" yaml:"enable_formula"`
	EnableTable   bool   `json:"enable_table" yaml:"enable_table"`
	EnableOCR     bool   `json:"enable_ocr" yaml:"enable_ocr"`
	Language      string `json:"language" yaml:"language"`
}

// DefaultProcessingOptions returns formula and table detection on, OCR off,
// language auto-detected.
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		EnableFormula: true,
		EnableTable:   true,
		EnableOCR:     false,
		Language:      "auto",
	}
}

// BatchHandle identifies one submitted processing batch.
type BatchHandle string

func (b BatchHandle) String() string { return string(b) }

// UploadTarget is a single-use pre-signed destination for the raw bytes.
type UploadTarget struct {
	URL string
}

// Remote task states. Any other label is treated as non-terminal.
const (
	StateWaitingFile = "waiting-file"
	StatePending     = "pending"
	StateRunning     = "running"
	StateConverting  = "converting"
	StateDone        = "done"
	StateFailed      = "failed"
)

// Progress reports remote page progress when the service provides it.
type Progress struct {
	ExtractedPages int
	TotalPages     int
}

// TaskStatus is one observation of a batch's state.
type TaskStatus struct {
	State    string
	FileName string
	ErrMsg   string
	Progress *Progress
	Result   *ResultDescriptor
}

// IsTerminal reports whether no further transition can occur.
func (s TaskStatus) IsTerminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// ResultDescriptor is the terminal success payload of a batch.
type ResultDescriptor struct {
	BatchID    BatchHandle
	FileName   string
	ArchiveURL string
}

// ConversionArtifact is the client-observable output of a conversion.
type ConversionArtifact struct {
	MarkdownPath string
	ImagesDir    string // empty when the archive had no images directory
	ImageCount   int
}

// Summary is the record persisted next to the artifact.
type Summary struct {
	Method       string  `json:"method"`
	MarkdownPath string  `json:"markdown_path"`
	ImagesDir    *string `json:"images_dir"`
	ImageCount   int     `json:"image_count"`
}

// NewSummary builds the summary record for an artifact.
func NewSummary(a ConversionArtifact) Summary {
	s := Summary{
		Method:       MethodMinerUAPI,
		MarkdownPath: a.MarkdownPath,
		ImageCount:   a.ImageCount,
	}
	if a.ImagesDir != "" {
		dir := a.ImagesDir
		s.ImagesDir = &dir
	}
	return s
}

// Stage is a step of the conversion state machine.
type Stage string

const (
	StageValidating Stage = "validating"
	StageSubmitting Stage = "submitting"
	StageUploading  Stage = "uploading"
	StagePolling    Stage = "polling"
	StageFetching   Stage = "fetching"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// EventKind represents the type of a stage event.
type EventKind string

const (
	EventStageStarted   EventKind = "started"
	EventStageProgress  EventKind = "progress"
	EventStageCompleted EventKind = "completed"
	EventStageFailed    EventKind = "failed"
)

// StageEvent is emitted while a conversion advances.
type StageEvent struct {
	Stage     Stage       `json:"stage"`
	Kind      EventKind   `json:"kind"`
	Message   string      `json:"message,omitempty"`
	BatchID   BatchHandle `json:"batch_id,omitempty"`
	Progress  *Progress   `json:"progress,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
