// Package app wires configuration into the engine for the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/config"
	"github.com/ariefcatur/stockd/internal/memory"
	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/postgres"
)

// OpenStore returns the configured store and a function that closes it.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; state is lost on exit")
		return memory.New(), func() {}, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return &postgres.Store{DB: db}, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
