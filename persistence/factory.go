package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// New creates a SessionStore for the configured backend. The context
// bounds connection setup for the networked backends.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (SessionStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemorySessionStore(), nil
	case StoreTypeSQLite, StoreTypeMySQL, StoreTypePostgres:
		return NewGormSessionStore(cfg, logger)
	case StoreTypeRedis:
		return NewRedisSessionStore(cfg, logger)
	case StoreTypeMongo:
		return NewMongoSessionStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Type)
	}
}
