package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical/pdf-converter/internal/config"
)

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.HistoryNone:
		return Nop{}, nil

	case config.HistorySQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
		return OpenSQL(ctx, "sqlite3", cfg.SQLitePath+"?_busy_timeout=5000")

	case config.HistoryPostgres:
		return OpenSQL(ctx, "postgres", cfg.PostgresDSN)

	case config.HistoryRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})

	default:
		return nil, fmt.Errorf("unknown history driver: %s", cfg.Driver)
	}
}
