package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/wardrobe/internal/domain"
)

func TestPipeline_CompletesAndIndexesUnderCategory(t *testing.T) {
	env := newTestEnv(t)
	env.annotator.set("shirt", annotation{description: "red linen shirt", title: "Red Shirt", category: domain.ApparelTop})
	env.embedder.images["shirt"] = []float32{3, 4, 0}

	item := env.seed(t, "alice", "img-1", "shirt.png", "shirt")
	require.True(t, env.process(t, item))

	got := env.item(t, "alice", "img-1")
	assert.Equal(t, domain.ProcessingStatusCompleted, got.ProcessingStatus)
	assert.Equal(t, "red linen shirt", got.Description)
	assert.Equal(t, "Red Shirt", got.Title)
	assert.Equal(t, domain.ApparelTop, got.ApparelType)

	for _, category := range domain.ApparelTypes {
		handle := domain.IndexHandle{Username: "alice", Category: category}
		if category == domain.ApparelTop {
			require.Equal(t, 1, env.index.Len(handle))
			continue
		}
		assert.Zero(t, env.index.Len(handle), "unexpected vector in %s index", category)
	}

	records := env.index.Records(domain.IndexHandle{Username: "alice", Category: domain.ApparelTop})
	require.Len(t, records, 1)
	assert.Equal(t, domain.VectorID("alice", domain.ApparelTop, "img-1"), records[0].ID)
	assert.InDelta(t, 1.0, domain.L2Norm(records[0].Vector), 1e-6)
	assert.InDelta(t, 0.6, records[0].Vector[0], 1e-6)
	assert.Equal(t, "img-1", records[0].Metadata.ImageID)
	assert.Equal(t, "shirt.png", records[0].Metadata.Filename)
	assert.Equal(t, "red linen shirt", records[0].Document)
}

func TestPipeline_TitleFailureUsesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.annotator.set("jeans", annotation{description: "blue denim jeans", title: "Jeans", category: domain.ApparelBottom})
	env.annotator.failTitle = true

	item := env.seed(t, "alice", "img-1", "jeans.jpg", "jeans")
	require.True(t, env.process(t, item))

	got := env.item(t, "alice", "img-1")
	assert.Equal(t, domain.ProcessingStatusCompleted, got.ProcessingStatus)
	assert.Equal(t, DefaultAnnotation.Title, got.Title)
	assert.Equal(t, "blue denim jeans", got.Description)
	assert.Equal(t, domain.ApparelBottom, got.ApparelType)
	assert.Equal(t, 1, env.index.Len(domain.IndexHandle{Username: "alice", Category: domain.ApparelBottom}))
}

func TestPipeline_AnnotationFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		configure func(f *fakeAnnotator)
		expected  annotation
	}{
		{
			name:      "description fails",
			configure: func(f *fakeAnnotator) { f.failDesc = true },
			expected:  annotation{description: DefaultAnnotation.Description, title: "Coat", category: domain.ApparelOuterwear},
		},
		{
			name:      "classification fails",
			configure: func(f *fakeAnnotator) { f.failClass = true },
			expected:  annotation{description: "wool coat", title: "Coat", category: domain.ApparelTop},
		},
		{
			name: "unknown label",
			configure: func(f *fakeAnnotator) {
				f.set("coat", annotation{description: "wool coat", title: "Coat", category: "hat"})
			},
			expected: annotation{description: "wool coat", title: "Coat", category: domain.ApparelTop},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.annotator.set("coat", annotation{description: "wool coat", title: "Coat", category: domain.ApparelOuterwear})
			tt.configure(env.annotator)

			item := env.seed(t, "alice", "img-1", "coat.png", "coat")
			require.True(t, env.process(t, item))

			got := env.item(t, "alice", "img-1")
			assert.Equal(t, domain.ProcessingStatusCompleted, got.ProcessingStatus)
			assert.Equal(t, tt.expected.description, got.Description)
			assert.Equal(t, tt.expected.title, got.Title)
			assert.Equal(t, tt.expected.category, got.ApparelType)
			assert.Equal(t, 1, env.index.Len(domain.IndexHandle{Username: "alice", Category: tt.expected.category}))
		})
	}
}

func TestPipeline_EmbeddingFailureMarksError(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.failNext = true

	item := env.seed(t, "alice", "img-1", "shirt.png", "shirt")
	assert.False(t, env.process(t, item))

	got := env.item(t, "alice", "img-1")
	assert.Equal(t, domain.ProcessingStatusError, got.ProcessingStatus)
	for _, category := range domain.ApparelTypes {
		assert.Zero(t, env.index.Len(domain.IndexHandle{Username: "alice", Category: category}))
	}

	status, err := env.pipeline.Status(context.Background(), "img-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusError, status)
}

func TestPipeline_ConcurrentItemsOfSameUser(t *testing.T) {
	env := newTestEnv(t)
	const n = 6

	items := make([]*domain.Item, n)
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("piece-%d", i)
		category := domain.ApparelTop
		if i%2 == 1 {
			category = domain.ApparelBottom
		}
		env.annotator.set(content, annotation{
			description: "description " + content,
			title:       "Title " + content,
			category:    category,
		})
		items[i] = env.seed(t, "alice", fmt.Sprintf("img-%d", i), content+".png", content)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := env.pipeline.Start(ctx, items[i].ImageID, items[i].Filename, items[i].StorageKey())
			if err != nil {
				return
			}
			results[i], _ = job.Wait(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.True(t, results[i], "item %d did not complete", i)
		got := env.item(t, "alice", fmt.Sprintf("img-%d", i))
		content := fmt.Sprintf("piece-%d", i)
		assert.Equal(t, domain.ProcessingStatusCompleted, got.ProcessingStatus)
		assert.Equal(t, "description "+content, got.Description)
		assert.Equal(t, "Title "+content, got.Title)
	}
	assert.Equal(t, n/2, env.index.Len(domain.IndexHandle{Username: "alice", Category: domain.ApparelTop}))
	assert.Equal(t, n/2, env.index.Len(domain.IndexHandle{Username: "alice", Category: domain.ApparelBottom}))
}

func TestPipeline_ReprocessReplacesVector(t *testing.T) {
	env := newTestEnv(t)
	env.annotator.set("skirt", annotation{description: "pleated skirt", title: "Skirt", category: domain.ApparelTop})

	item := env.seed(t, "alice", "img-1", "skirt.png", "skirt")
	require.True(t, env.process(t, item))

	top := domain.IndexHandle{Username: "alice", Category: domain.ApparelTop}
	bottom := domain.IndexHandle{Username: "alice", Category: domain.ApparelBottom}
	require.Equal(t, 1, env.index.Len(top))

	// Same category again: the earlier vector is replaced, not duplicated.
	job, err := env.pipeline.Reprocess(context.Background(), "img-1")
	require.NoError(t, err)
	ok, err := job.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, env.index.Len(top))

	// New category: the vector moves to the new index.
	env.annotator.set("skirt", annotation{description: "pleated skirt", title: "Skirt", category: domain.ApparelBottom})
	job, err = env.pipeline.Reprocess(context.Background(), "img-1")
	require.NoError(t, err)
	ok, err = job.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Zero(t, env.index.Len(top))
	assert.Equal(t, 1, env.index.Len(bottom))
	assert.Equal(t, domain.ApparelBottom, env.item(t, "alice", "img-1").ApparelType)
}

func TestPipeline_RejectsPathOfAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	item := env.seed(t, "alice", "img-1", "shirt.png", "shirt")

	job, err := env.pipeline.Start(context.Background(), item.ImageID, item.Filename, "bob/shirt.png")
	require.NoError(t, err)
	ok, err := job.Wait(context.Background())

	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrInconsistency)
	assert.Zero(t, env.index.Len(domain.IndexHandle{Username: "bob", Category: domain.ApparelTop}))

	// The owner is known, so the item is marked failed instead of staying queued.
	assert.Equal(t, domain.ProcessingStatusError, env.item(t, "alice", "img-1").ProcessingStatus)
	status, err := env.pipeline.Status(context.Background(), "img-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusError, status)
}

func TestPipeline_RecategorizeAfterFailedEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.annotator.set("dress", annotation{description: "summer dress", title: "Dress", category: domain.ApparelTop})

	item := env.seed(t, "alice", "img-1", "dress.png", "dress")
	require.True(t, env.process(t, item))

	top := domain.IndexHandle{Username: "alice", Category: domain.ApparelTop}
	bottom := domain.IndexHandle{Username: "alice", Category: domain.ApparelBottom}
	require.Equal(t, 1, env.index.Len(top))

	// The new category is saved before embedding fails.
	env.annotator.set("dress", annotation{description: "summer dress", title: "Dress", category: domain.ApparelBottom})
	env.embedder.mu.Lock()
	env.embedder.failNext = true
	env.embedder.mu.Unlock()

	job, err := env.pipeline.Reprocess(ctx, "img-1")
	require.NoError(t, err)
	ok, _ := job.Wait(ctx)
	require.False(t, ok)
	assert.Equal(t, domain.ApparelBottom, env.item(t, "alice", "img-1").ApparelType)

	job, err = env.pipeline.Reprocess(ctx, "img-1")
	require.NoError(t, err)
	ok, err = job.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got := env.item(t, "alice", "img-1")
	assert.Equal(t, domain.ProcessingStatusCompleted, got.ProcessingStatus)
	assert.Equal(t, domain.ApparelBottom, got.ApparelType)
	assert.Zero(t, env.index.Len(top), "vector left behind in the old category")
	assert.Equal(t, 1, env.index.Len(bottom))
}

func TestPipeline_StatusOfUnknownItem(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.pipeline.Status(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusNotFound, status)

	_, err = env.pipeline.Reprocess(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestPipeline_Retry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seed(t, "alice", "img-1", "a.png", "a")
	env.seed(t, "bob", "img-2", "b.png", "b")
	_, err := env.store.Update(ctx, "bob", "img-2", domain.StatusPatch(domain.ProcessingStatusError))
	require.NoError(t, err)

	stats, err := env.pipeline.Retry(ctx, domain.ProcessingStatusPending, domain.ProcessingStatusError)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalItems)
	assert.Equal(t, int64(2), stats.CompletedItems)
	assert.Zero(t, stats.FailedItems)
	assert.Equal(t, domain.ProcessingStatusCompleted, env.item(t, "alice", "img-1").ProcessingStatus)
	assert.Equal(t, domain.ProcessingStatusCompleted, env.item(t, "bob", "img-2").ProcessingStatus)
}

func TestUsernameFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{path: "alice/shirt.png", expected: "alice"},
		{path: "static/uploads/alice/shirt.png", expected: "alice"},
		{path: `static\uploads\bob\shirt.png`, expected: "bob"},
		{path: "shirt.png", expected: ""},
		{path: "/shirt.png", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, UsernameFromPath(tt.path))
		})
	}
}
