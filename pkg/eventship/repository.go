package eventship

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/storage/file"
	"github.com/bft-labs/eventship/pkg/storage/memory"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/store/redis"
	"github.com/bft-labs/eventship/pkg/store/sqlite"
)

// OpenRepository opens the task store selected by cfg.Store.
func OpenRepository(ctx context.Context, cfg Config, logger log.Logger) (store.Repository, error) {
	switch cfg.Store {
	case StoreMemory, "":
		return store.NewKVRepository(memory.New(), store.WithKVLogger(logger)), nil
	case StoreFile:
		dir := filepath.Join(cfg.StateDir, "queue")
		return store.NewKVRepository(file.New(dir), store.WithKVLogger(logger)), nil
	case StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case StoreRedis:
		s, err := redis.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, cfg.Store)
	}
}
