package service

import (
	"context"

	"github.com/timmy/wardrobe/internal/domain"
)

// Annotator produces the three annotations of an item photo.
type Annotator interface {
	Describe(ctx context.Context, image []byte, format string) (string, error)
	Title(ctx context.Context, image []byte, format string) (string, error)
	// Classify returns domain.ApparelTop when the model answers with an unknown label.
	Classify(ctx context.Context, image []byte, format string) (domain.ApparelType, error)
}

// Embedder maps images and text into one vector space.
// Returned vectors are not assumed to be normalized.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte, format string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Suggester writes a free-form single-line answer to a prompt.
type Suggester interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// VectorIndex stores unit-normalized vectors per (user, category) handle.
// Callers must normalize every vector they insert or query with.
type VectorIndex interface {
	Ensure(ctx context.Context, username string, category domain.ApparelType) (domain.IndexHandle, error)
	// Insert fails with domain.ErrDuplicateID if the record id already exists.
	Insert(ctx context.Context, handle domain.IndexHandle, record domain.VectorRecord) error
	// Query returns an empty slice, not an error, for an empty index.
	Query(ctx context.Context, handle domain.IndexHandle, vector []float32, k int) ([]domain.VectorMatch, error)
	// Delete removes one record; a missing id is not an error.
	Delete(ctx context.Context, handle domain.IndexHandle, id string) error
	Drop(ctx context.Context, handle domain.IndexHandle) error
}

// MetadataStore persists item records. Implementations must serialize
// writes per user and apply patches to single records atomically.
type MetadataStore interface {
	Create(ctx context.Context, item *domain.Item) error
	ListByUser(ctx context.Context, username string) ([]domain.Item, error)
	GetByID(ctx context.Context, username, imageID string) (*domain.Item, error)
	OwnerOf(ctx context.Context, imageID string) (string, error)
	Update(ctx context.Context, username, imageID string, patch domain.ItemPatch) (*domain.Item, error)
	AddPair(ctx context.Context, username, imageID, otherID string) error
	ListByStatus(ctx context.Context, statuses ...domain.ProcessingStatus) ([]domain.Item, error)
	ClearUser(ctx context.Context, username string) ([]domain.Item, error)
}
