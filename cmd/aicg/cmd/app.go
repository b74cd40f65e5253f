package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aicg/aicg/internal/blob"
	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/provider"
	"github.com/aicg/aicg/internal/repository"
	"github.com/aicg/aicg/internal/runtime"
)

// openDatabase connects and migrates; unreachable backends are
// dependency errors (exit 3).
func openDatabase(cfg *config.Config, logger *slog.Logger) (*database.DB, *repository.Repositories, error) {
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, nil, depErr(fmt.Errorf("opening database: %w", err))
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, depErr(fmt.Errorf("migrating database: %w", err))
	}
	return db, repository.New(db), nil
}

// openQueue connects to the redis task queue.
func openQueue(ctx context.Context, cfg *config.Config) (runtime.Queue, error) {
	queue, err := runtime.NewRedisQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, depErr(err)
	}
	return queue, nil
}

// openBlob connects to the S3-compatible object store.
func openBlob(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	store, err := blob.NewS3Store(ctx, cfg.Blob, logger)
	if err != nil {
		return nil, depErr(fmt.Errorf("connecting to blob store: %w", err))
	}
	return store, nil
}

// buildRegistry registers the built-in provider adapters. Credentials
// select an adapter by their provider name.
func buildRegistry(logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("openai", provider.NewOpenAICompat(logger))
	registry.Register("vectorengine", provider.NewVectorEngine(logger))
	return registry
}
