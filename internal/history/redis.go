package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spherical/pdf-converter/internal/domain"
)

// RedisConfig holds Redis connection settings for the journal.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore keeps entries as JSON values with a sorted-set index by
// creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pdfconv:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) entryKey(id string) string    { return s.prefix + "conversion:" + id }
func (s *RedisStore) batchKey(batch string) string { return s.prefix + "batch:" + batch }
func (s *RedisStore) indexKey() string             { return s.prefix + "conversions" }

// Start stores a new entry, assigning an id when empty.
func (s *RedisStore) Start(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Stage == "" {
		entry.Stage = domain.StageValidating
	}

	if err := s.save(ctx, entry); err != nil {
		return err
	}

	err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: entry.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis index entry: %w", err)
	}
	return nil
}

// Update records a stage transition.
func (s *RedisStore) Update(ctx context.Context, id string, stage domain.Stage, patch Patch) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	patch.apply(entry, stage, time.Now().UTC())
	return s.save(ctx, entry)
}

// Get retrieves an entry by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode history entry: %w", err)
	}
	return &entry, nil
}

// FindByBatch retrieves the entry that submitted batchID.
func (s *RedisStore) FindByBatch(ctx context.Context, batchID string) (*Entry, error) {
	id, err := s.client.Get(ctx, s.batchKey(batchID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns the newest entries first. Index members whose entry has
// expired are pruned.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) save(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(entry.ID), data, s.ttl)
	if entry.BatchID != "" {
		pipe.Set(ctx, s.batchKey(entry.BatchID), entry.ID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
