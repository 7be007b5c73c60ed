// Package history keeps a journal of conversion runs so a batch that timed
// out can be resumed later without remembering its id.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/spherical/pdf-converter/internal/domain"
)

// ErrNotFound indicates no journal entry matched.
var ErrNotFound = errors.New("history entry not found")

// Entry is one conversion run.
type Entry struct {
	ID           string       `json:"id"`
	InputPath    string       `json:"input_path"`
	OutputDir    string       `json:"output_dir"`
	BatchID      string       `json:"batch_id"`
	Stage        domain.Stage `json:"stage"`
	Error        string       `json:"error,omitempty"`
	MarkdownPath string       `json:"markdown_path,omitempty"`
	ImagesDir    string       `json:"images_dir,omitempty"`
	ImageCount   int          `json:"image_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Patch carries the fields a stage transition changes. Empty strings and a
// nil artifact leave the stored values untouched.
type Patch struct {
	BatchID  string
	Error    string
	Artifact *domain.ConversionArtifact
}

// apply merges p into e.
func (p Patch) apply(e *Entry, stage domain.Stage, now time.Time) {
	e.Stage = stage
	e.UpdatedAt = now
	if p.BatchID != "" {
		e.BatchID = p.BatchID
	}
	if p.Error != "" {
		e.Error = p.Error
	}
	if p.Artifact != nil {
		e.MarkdownPath = p.Artifact.MarkdownPath
		e.ImagesDir = p.Artifact.ImagesDir
		e.ImageCount = p.Artifact.ImageCount
	}
}

// Store persists journal entries.
type Store interface {
	Start(ctx context.Context, entry *Entry) error
	Update(ctx context.Context, id string, stage domain.Stage, patch Patch) error
	Get(ctx context.Context, id string) (*Entry, error)
	FindByBatch(ctx context.Context, batchID string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop is a Store that records nothing.
type Nop struct{}

func (Nop) Start(context.Context, *Entry) error { return nil }
func (Nop) Update(context.Context, string, domain.Stage, Patch) error { return nil }
func (Nop) Get(context.Context, string) (*Entry, error) { return nil, ErrNotFound }
func (Nop) FindByBatch(context.Context, string) (*Entry, error) { return nil, ErrNotFound }
func (Nop) List(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error { return nil }
