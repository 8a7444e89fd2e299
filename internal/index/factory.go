package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/repository"
	"gorm.io/gorm"
)

// Backends
const (
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
)

// Index is implemented by every backend.
type Index interface {
	Ensure(ctx context.Context, username string, category domain.ApparelType) (domain.IndexHandle, error)
	Insert(ctx context.Context, handle domain.IndexHandle, record domain.VectorRecord) error
	Query(ctx context.Context, handle domain.IndexHandle, vector []float32, k int) ([]domain.VectorMatch, error)
	Delete(ctx context.Context, handle domain.IndexHandle, id string) error
	Drop(ctx context.Context, handle domain.IndexHandle) error
}

// New creates the backend selected by cfg.Backend.
// Parameters:
//   - cfg: vector configuration.
//   - db: database handle, only used by the pgvector backend.
//
// Returns:
//   - Index: the backend.
//   - func() error: releases backend connections; never nil.
//   - error: non-nil if the backend is unknown or cannot connect.
func New(cfg *config.VectorConfig, db *gorm.DB) (Index, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return NewMemoryIndex(cfg.Dimensions), noop, nil
	case BackendQdrant, "":
		repo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Dimensions,
		})
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	case BackendPgVector:
		if db == nil {
			return nil, noop, fmt.Errorf("pgvector backend requires a database")
		}
		return repository.NewPgVectorRepository(db, cfg.Dimensions), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// UsesDatabase reports whether the backend keeps vectors in the metadata database.
func UsesDatabase(cfg *config.VectorConfig) bool {
	return strings.EqualFold(cfg.Backend, BackendPgVector)
}
