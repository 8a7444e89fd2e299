package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/wardrobe/internal/domain"
)

func requireRecommendationError(t *testing.T, err error, code domain.RecommendationCode) *domain.RecommendationError {
	t.Helper()
	require.Error(t, err)
	recErr, ok := domain.AsRecommendationError(err)
	require.True(t, ok, "expected a RecommendationError, got %T: %v", err, err)
	assert.Equal(t, code, recErr.Code)
	assert.NotEmpty(t, recErr.Message)
	return recErr
}

func TestRecommendRandom_NoItems(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.recommender.RecommendRandom(context.Background(), "alice")

	assert.Nil(t, rec)
	recErr := requireRecommendationError(t, err, domain.CodeNoItemsFound)
	assert.Equal(t, domain.KindNotFound, recErr.Kind())
	assert.Empty(t, env.suggester.seen())
	for _, category := range domain.ApparelTypes {
		assert.Zero(t, env.index.Len(domain.IndexHandle{Username: "alice", Category: category}))
	}
}

func TestRecommendRandom_NoBottom(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "top-1", annotation{description: "white tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})

	_, err := env.recommender.RecommendRandom(context.Background(), "alice")

	requireRecommendationError(t, err, domain.CodeNoBottomFound)
	assert.Empty(t, env.suggester.seen())
}

func TestRecommendRandom_PicksClosestTop(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "bottom-1", annotation{description: "black chinos", title: "Chinos", category: domain.ApparelBottom}, []float32{0, 0, 1})
	env.addCompleted(t, "alice", "top-1", annotation{description: "red hoodie", title: "Hoodie", category: domain.ApparelTop}, []float32{1, 0, 0})
	env.addCompleted(t, "alice", "top-2", annotation{description: "white oxford", title: "Oxford", category: domain.ApparelTop}, []float32{0, 1, 0})

	env.suggester.answer = func(string) string { return "crisp white shirt" }
	env.embedder.texts["crisp white shirt"] = []float32{0.1, 2, 0}

	rec, err := env.recommender.RecommendRandom(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "success", rec.Status)
	assert.Equal(t, "bottom-1", rec.BaseItem.ImageID)
	assert.Equal(t, domain.ApparelBottom, rec.BaseItem.Type)
	assert.Equal(t, "top-2", rec.RecommendedItem.ImageID)
	assert.Equal(t, "white oxford", rec.RecommendedItem.Description)
	assert.Equal(t, "Oxford", rec.RecommendedItem.Title)
	assert.Equal(t, "/static/uploads/alice/top-2.png", rec.RecommendedItem.ImageURL)

	prompts := env.suggester.seen()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "black chinos")
	assert.Contains(t, prompts[0], "Suggest a compatible top")
}

func TestRecommendForItem_PairsTopWithBottom(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "x", annotation{description: "striped tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})
	env.addCompleted(t, "alice", "y", annotation{description: "grey trousers", title: "Trousers", category: domain.ApparelBottom}, []float32{0, 1, 0})

	req := ItemRecommendationRequest{Username: "alice", ImageID: "x"}
	rec, err := env.recommender.RecommendForItem(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "x", rec.BaseItem.ImageID)
	assert.Equal(t, "y", rec.RecommendedItem.ImageID)
	assert.Equal(t, domain.ApparelBottom, rec.RecommendedItem.Type)

	prompts := env.suggester.seen()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], `Given this top: "striped tee"`)
	assert.Contains(t, prompts[0], "complementary bottom")

	x := env.item(t, "alice", "x")
	y := env.item(t, "alice", "y")
	assert.Equal(t, domain.StringArray{"y"}, x.Pairs)
	assert.Equal(t, domain.StringArray{"x"}, y.Pairs)

	// Pairing again is idempotent.
	_, err = env.recommender.RecommendForItem(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StringArray{"y"}, env.item(t, "alice", "x").Pairs)
	assert.Equal(t, domain.StringArray{"x"}, env.item(t, "alice", "y").Pairs)
}

func TestRecommendForItem_CallerOverrides(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "coat", annotation{description: "long coat", title: "Coat", category: domain.ApparelFullBody}, []float32{1, 0, 0})
	env.addCompleted(t, "alice", "pants", annotation{description: "wide pants", title: "Pants", category: domain.ApparelBottom}, []float32{0, 1, 0})

	rec, err := env.recommender.RecommendForItem(context.Background(), ItemRecommendationRequest{
		Username:    "alice",
		ImageID:     "coat",
		Description: "camel wool overcoat",
		ApparelType: "Outerwear",
	})
	require.NoError(t, err)
	assert.Equal(t, "pants", rec.RecommendedItem.ImageID)

	prompts := env.suggester.seen()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], `Given this outerwear: "camel wool overcoat"`)
}

func TestRecommendForItem_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "x", annotation{description: "striped tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})
	env.seed(t, "alice", "pending", "pending.png", "pending")

	tests := []struct {
		name string
		req  ItemRecommendationRequest
		code domain.RecommendationCode
	}{
		{
			name: "unknown item",
			req:  ItemRecommendationRequest{Username: "alice", ImageID: "nope"},
			code: domain.CodeItemNotFound,
		},
		{
			name: "item of another user",
			req:  ItemRecommendationRequest{Username: "bob", ImageID: "x"},
			code: domain.CodeItemNotFound,
		},
		{
			name: "invalid apparel type",
			req:  ItemRecommendationRequest{Username: "alice", ImageID: "x", ApparelType: "hat"},
			code: domain.CodeInvalidInput,
		},
		{
			name: "item not categorized yet",
			req:  ItemRecommendationRequest{Username: "alice", ImageID: "pending"},
			code: domain.CodeInvalidInput,
		},
		{
			name: "missing image id",
			req:  ItemRecommendationRequest{Username: "alice"},
			code: domain.CodeInvalidInput,
		},
		{
			name: "missing username",
			req:  ItemRecommendationRequest{ImageID: "x"},
			code: domain.CodeInvalidInput,
		},
		{
			name: "empty bottom index",
			req:  ItemRecommendationRequest{Username: "alice", ImageID: "x"},
			code: domain.CodeNoMatchFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.recommender.RecommendForItem(context.Background(), tt.req)
			requireRecommendationError(t, err, tt.code)
		})
	}

	assert.Empty(t, env.item(t, "alice", "x").Pairs)
}

func TestRecommendForItem_VectorWithoutMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompleted(t, "alice", "x", annotation{description: "striped tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})

	handle, err := env.index.Ensure(ctx, "alice", domain.ApparelBottom)
	require.NoError(t, err)
	require.NoError(t, env.index.Insert(ctx, handle, domain.VectorRecord{
		ID:       domain.VectorID("alice", domain.ApparelBottom, "ghost"),
		Vector:   []float32{0, 1, 0},
		Metadata: domain.VectorMetadata{ImageID: "ghost", Username: "alice", Category: domain.ApparelBottom},
	}))

	_, err = env.recommender.RecommendForItem(ctx, ItemRecommendationRequest{Username: "alice", ImageID: "x"})

	recErr := requireRecommendationError(t, err, domain.CodeMetadataInconsistency)
	assert.Equal(t, domain.KindInconsistency, recErr.Kind())
	assert.ErrorIs(t, err, domain.ErrInconsistency)
	assert.Empty(t, env.item(t, "alice", "x").Pairs)
}

func TestRecommendForItem_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "x", annotation{description: "striped tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})
	env.suggester.err = errModelDown

	_, err := env.recommender.RecommendForItem(context.Background(), ItemRecommendationRequest{Username: "alice", ImageID: "x"})

	recErr := requireRecommendationError(t, err, domain.CodeUpstreamFailure)
	assert.Equal(t, domain.KindUpstreamFailure, recErr.Kind())
	assert.ErrorIs(t, err, errModelDown)
}

func TestRecommendFromText(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "b1", annotation{description: "dark denim jeans", title: "Jeans", category: domain.ApparelBottom}, []float32{1, 0, 0})
	env.addCompleted(t, "alice", "b2", annotation{description: "floral skirt", title: "Skirt", category: domain.ApparelBottom}, []float32{0, 0, 1})
	env.addCompleted(t, "alice", "t1", annotation{description: "navy blazer", title: "Blazer", category: domain.ApparelTop}, []float32{0, 1, 0})

	env.suggester.answer = func(prompt string) string {
		if strings.Contains(prompt, "Suggest a bottom") {
			return "slim dark jeans"
		}
		return "tailored navy jacket"
	}
	env.embedder.texts["slim dark jeans"] = []float32{2, 0, 0.1}
	env.embedder.texts["tailored navy jacket"] = []float32{0, 3, 0}

	rec, err := env.recommender.RecommendFromText(context.Background(), "alice", "  smart casual office look ")
	require.NoError(t, err)

	assert.Equal(t, "b1", rec.BaseItem.ImageID)
	assert.Equal(t, "t1", rec.RecommendedItem.ImageID)

	prompts := env.suggester.seen()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], `"smart casual office look"`)
	assert.Contains(t, prompts[1], `bottom item: "dark denim jeans"`)

	assert.True(t, env.item(t, "alice", "b1").Pairs.Contains("t1"))
	assert.True(t, env.item(t, "alice", "t1").Pairs.Contains("b1"))
	assert.Empty(t, env.item(t, "alice", "b2").Pairs)
}

func TestRecommendFromText_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.recommender.RecommendFromText(context.Background(), "alice", "   ")
	requireRecommendationError(t, err, domain.CodeInvalidInput)

	_, err = env.recommender.RecommendFromText(context.Background(), "alice", "beach outfit")
	requireRecommendationError(t, err, domain.CodeNoItemsFound)

	env.addCompleted(t, "alice", "t1", annotation{description: "navy blazer", title: "Blazer", category: domain.ApparelTop}, []float32{0, 1, 0})
	_, err = env.recommender.RecommendFromText(context.Background(), "alice", "beach outfit")
	requireRecommendationError(t, err, domain.CodeNoMatchFound)
}

func TestRecommend_RunsInlineWithoutPool(t *testing.T) {
	env := newTestEnv(t)
	env.addCompleted(t, "alice", "x", annotation{description: "striped tee", title: "Tee", category: domain.ApparelTop}, []float32{1, 0, 0})
	env.addCompleted(t, "alice", "y", annotation{description: "grey trousers", title: "Trousers", category: domain.ApparelBottom}, []float32{0, 1, 0})

	inline := NewRecommendService(&RecommendDeps{
		Store:     env.store,
		Index:     env.index,
		Embedder:  env.embedder,
		Suggester: env.suggester,
		Storage:   env.storage,
	})
	inline.pick = func(int) int { return 0 }

	rec, err := inline.RecommendRandom(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "y", rec.BaseItem.ImageID)
	assert.Equal(t, "x", rec.RecommendedItem.ImageID)
}
