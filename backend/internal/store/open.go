package store

import (
	"context"

	"kgchat/backend/internal/graph"
	"kgchat/backend/pkg/config"
	apperrors "kgchat/backend/pkg/errors"
)

// Open builds the store selected by cfg.StoreBackend
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBadger:
		s, err := OpenBadger(BadgerConfig{Dir: cfg.BadgerDir, SyncWrites: cfg.IsProduction()})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendNeo4j:
		repo, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, apperrors.NewConfigValidationFailed("STORE_BACKEND", "unknown backend "+cfg.StoreBackend)
	}
}
