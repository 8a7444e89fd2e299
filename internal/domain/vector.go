package domain

import (
	"fmt"
	"math"
)

// IndexHandle identifies one vector index. Every (user, category) pair owns
// its own index so wardrobes can never be mixed.
type IndexHandle struct {
	Username string
	Category ApparelType
}

// Name returns the stable name used for the index in backing stores.
func (h IndexHandle) Name() string {
	return fmt.Sprintf("wardrobe_%s_%s", h.Username, h.Category)
}

// VectorMetadata is the payload stored next to each vector.
type VectorMetadata struct {
	ImageID   string      `json:"image_id"`
	Filename  string      `json:"filename"`
	Timestamp string      `json:"timestamp"`
	Username  string      `json:"username"`
	Category  ApparelType `json:"category"`
}

// VectorRecord is a single embedding stored in an index.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Document string
	Metadata VectorMetadata
}

// VectorMatch is a query hit ranked by cosine similarity.
type VectorMatch struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Document string         `json:"document"`
	Metadata VectorMetadata `json:"metadata"`
}

// VectorID builds the globally unique record id for an item in a category.
func VectorID(username string, category ApparelType, imageID string) string {
	return fmt.Sprintf("%s_%s_%s", username, category, imageID)
}

// Normalize returns a unit-length copy of v.
// A zero vector cannot be normalized and yields an error.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("cannot normalize empty vector")
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, fmt.Errorf("cannot normalize zero vector")
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// L2Norm returns the Euclidean length of v.
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
