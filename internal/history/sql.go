package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/pdf-converter/internal/domain"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversions (
		id            TEXT PRIMARY KEY,
		input_path    TEXT NOT NULL,
		output_dir    TEXT NOT NULL,
		batch_id      TEXT NOT NULL DEFAULT '',
		stage         TEXT NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		markdown_path TEXT NOT NULL DEFAULT '',
		images_dir    TEXT NOT NULL DEFAULT '',
		image_count   INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversions_batch_id ON conversions (batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions (created_at)`,
}

const entryColumns = `id, input_path, output_dir, batch_id, stage, error,
	markdown_path, images_dir, image_count, created_at, updated_at`

// SQLStore keeps the journal in SQLite or PostgreSQL.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens driver ("sqlite3" or "postgres") at dsn and migrates the
// schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and migrates the schema.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Start inserts a new entry, assigning an id when empty.
func (s *SQLStore) Start(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Stage == "" {
		entry.Stage = domain.StageValidating
	}

	query := `
		INSERT INTO conversions (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.InputPath, entry.OutputDir, entry.BatchID, string(entry.Stage), entry.Error,
		entry.MarkdownPath, entry.ImagesDir, entry.ImageCount, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Update records a stage transition.
func (s *SQLStore) Update(ctx context.Context, id string, stage domain.Stage, patch Patch) error {
	query := `
		UPDATE conversions SET
			stage = $1,
			batch_id = COALESCE(NULLIF(CAST($2 AS TEXT), ''), batch_id),
			error = COALESCE(NULLIF(CAST($3 AS TEXT), ''), error),
			updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query, string(stage), patch.BatchID, patch.Error, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update history entry: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	if a := patch.Artifact; a != nil {
		query := `
			UPDATE conversions SET markdown_path = $1, images_dir = $2, image_count = $3
			WHERE id = $4
		`
		res, err := s.db.ExecContext(ctx, query, a.MarkdownPath, a.ImagesDir, a.ImageCount, id)
		if err != nil {
			return fmt.Errorf("update history artifact: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
	}
	return nil
}

// expectRow maps an update that touched nothing to ErrNotFound.
func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves an entry by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM conversions WHERE id = $1`
	return scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// FindByBatch retrieves the most recent entry for a remote batch.
func (s *SQLStore) FindByBatch(ctx context.Context, batchID string) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM conversions
		WHERE batch_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanEntry(s.db.QueryRowContext(ctx, query, batchID))
}

// List returns the newest entries first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + entryColumns + ` FROM conversions
		ORDER BY created_at DESC, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	var stage string
	err := row.Scan(
		&e.ID, &e.InputPath, &e.OutputDir, &e.BatchID, &stage, &e.Error,
		&e.MarkdownPath, &e.ImagesDir, &e.ImageCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan history entry: %w", err)
	}
	e.Stage = domain.Stage(stage)
	return e, nil
}
