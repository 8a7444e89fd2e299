package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/timmy/wardrobe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemVector is one embedding row in the pgvector-backed index.
// The (username, category) columns partition rows into per-handle indexes.
type ItemVector struct {
	ID        string          `gorm:"type:text;primaryKey"`
	Username  string          `gorm:"type:text;not null;index:idx_item_vectors_handle"`
	Category  string          `gorm:"type:text;not null;index:idx_item_vectors_handle"`
	ImageID   string          `gorm:"type:text;not null"`
	Filename  string          `gorm:"type:text"`
	Timestamp string          `gorm:"type:text"`
	Document  string          `gorm:"type:text"`
	Embedding pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
}

// TableName returns the database table name for ItemVector.
func (ItemVector) TableName() string {
	return "item_vectors"
}

type scoredItemVector struct {
	ItemVector
	Score float32
}

// PgVectorRepository is a vector index stored in PostgreSQL with pgvector.
type PgVectorRepository struct {
	db         *gorm.DB
	dimensions int
}

// NewPgVectorRepository creates a new PgVectorRepository.
// The database must have been initialized with InitDB(cfg, true).
func NewPgVectorRepository(db *gorm.DB, dimensions int) *PgVectorRepository {
	if dimensions <= 0 {
		dimensions = defaultVectorDimension
	}
	return &PgVectorRepository{db: db, dimensions: dimensions}
}

// Ensure returns the handle for (username, category). Rows share one table,
// so there is nothing to create.
func (r *PgVectorRepository) Ensure(_ context.Context, username string, category domain.ApparelType) (domain.IndexHandle, error) {
	return domain.IndexHandle{Username: username, Category: category}, nil
}

// Insert stores one vector record.
// Returns domain.ErrDuplicateID if the record id is already present.
func (r *PgVectorRepository) Insert(ctx context.Context, handle domain.IndexHandle, record domain.VectorRecord) error {
	if len(record.Vector) != r.dimensions {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(record.Vector), r.dimensions)
	}

	row := &ItemVector{
		ID:        record.ID,
		Username:  handle.Username,
		Category:  string(handle.Category),
		ImageID:   record.Metadata.ImageID,
		Filename:  record.Metadata.Filename,
		Timestamp: record.Metadata.Timestamp,
		Document:  record.Document,
		Embedding: pgvector.NewVector(record.Vector),
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert vector: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateID
	}
	return nil
}

// Query returns the k nearest rows of the handle ranked by cosine similarity.
// The <=> operator is cosine distance, so similarity is 1 - distance.
func (r *PgVectorRepository) Query(ctx context.Context, handle domain.IndexHandle, vector []float32, k int) ([]domain.VectorMatch, error) {
	if k <= 0 {
		return []domain.VectorMatch{}, nil
	}

	vec := pgvector.NewVector(vector)
	var rows []scoredItemVector
	err := r.db.WithContext(ctx).
		Model(&ItemVector{}).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Where("username = ? AND category = ?", handle.Username, string(handle.Category)).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}}).
		Limit(k).
		Scan(&rows).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	matches := make([]domain.VectorMatch, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, domain.VectorMatch{
			ID:       row.ID,
			Score:    row.Score,
			Document: row.Document,
			Metadata: domain.VectorMetadata{
				ImageID:   row.ImageID,
				Filename:  row.Filename,
				Timestamp: row.Timestamp,
				Username:  row.Username,
				Category:  domain.ApparelType(row.Category),
			},
		})
	}
	return matches, nil
}

// Delete removes one row of the handle.
func (r *PgVectorRepository) Delete(ctx context.Context, handle domain.IndexHandle, id string) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND username = ? AND category = ?", id, handle.Username, string(handle.Category)).
		Delete(&ItemVector{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// Drop removes every row of the handle.
func (r *PgVectorRepository) Drop(ctx context.Context, handle domain.IndexHandle) error {
	err := r.db.WithContext(ctx).
		Where("username = ? AND category = ?", handle.Username, string(handle.Category)).
		Delete(&ItemVector{}).Error
	if err != nil {
		return fmt.Errorf("failed to drop vectors: %w", err)
	}
	return nil
}
