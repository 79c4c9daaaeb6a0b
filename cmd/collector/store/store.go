// Package store creates the history backend selected by the collector
// configuration.
//
//   - memory: fixed-capacity in-process ring (default). Lost on restart.
//   - redis:  the same FIFO law on a Redis list. Connectivity is checked
//     at startup so the collector never runs with a broken backend.
//
// Backends that hold connections implement io.Closer; the caller closes
// them after the storage actor has stopped.
package store

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/hawkeye/cmd/collector/config"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

func New(cfg *config.Config, logger *slog.Logger) (storage.History, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis history",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"key", cfg.RedisKey,
			"capacity", cfg.StorageSize,
		)
		h, err := storage.NewRedisHistory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey, cfg.StorageSize)
		if err != nil {
			return nil, fmt.Errorf("redis history: %w", err)
		}
		logger.Info("redis history connected")
		return h, nil

	case "memory", "":
		logger.Info("initializing in-memory history", "capacity", cfg.StorageSize)
		return storage.NewMemoryHistory(cfg.StorageSize)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}
