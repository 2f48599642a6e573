package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "kgchat/backend/pkg/errors"
	"kgchat/backend/pkg/logger"
)

// Repository handles all Neo4j database operations. Each chat session is a
// (:Session) node owning its (:Entity) nodes; co-occurrence relations are
// RELATED edges between those entities.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Get(),
	}
}

// Connect opens a driver, verifies connectivity and ensures the schema
func Connect(ctx context.Context, uri, user, password string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewStoreConnectionFailed("neo4j", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewStoreConnectionFailed("neo4j", uri, err)
	}

	repo := NewRepository(driver)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	repo.logger.Info("Connected to Neo4j", zap.String("uri", uri))
	return repo, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Backend names this store for metrics and errors
func (r *Repository) Backend() string { return "neo4j" }

// EnsureSchema creates the uniqueness constraint and lookup index used by session queries
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		`CREATE INDEX entity_session IF NOT EXISTS FOR (e:Entity) ON (e.session_id, e.id)`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return apperrors.NewStoreOperationFailed(r.Backend(), "schema", err)
		}
	}
	return nil
}
