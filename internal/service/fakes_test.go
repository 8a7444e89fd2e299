package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/index"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/repository"
	"github.com/timmy/wardrobe/internal/storage"
)

const testDimensions = 3

var errModelDown = errors.New("model unavailable")

// annotation is what fakeAnnotator returns for one image payload.
type annotation struct {
	description string
	title       string
	category    domain.ApparelType
}

// fakeAnnotator answers by image content. Unknown images get a generic top.
type fakeAnnotator struct {
	mu          sync.Mutex
	annotations map[string]annotation
	failTitle   bool
	failDesc    bool
	failClass   bool
}

func newFakeAnnotator() *fakeAnnotator {
	return &fakeAnnotator{annotations: make(map[string]annotation)}
}

func (f *fakeAnnotator) set(image string, a annotation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotations[image] = a
}

type failFlags struct {
	failTitle bool
	failDesc  bool
	failClass bool
}

func (f *fakeAnnotator) get(image []byte) (annotation, failFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.annotations[string(image)]
	if !ok {
		a = annotation{description: "plain item", title: "Plain Item", category: domain.ApparelTop}
	}
	return a, failFlags{failTitle: f.failTitle, failDesc: f.failDesc, failClass: f.failClass}
}

func (f *fakeAnnotator) Describe(_ context.Context, image []byte, _ string) (string, error) {
	a, flags := f.get(image)
	if flags.failDesc {
		return "", errModelDown
	}
	return a.description, nil
}

func (f *fakeAnnotator) Title(_ context.Context, image []byte, _ string) (string, error) {
	a, flags := f.get(image)
	if flags.failTitle {
		return "", errModelDown
	}
	return a.title, nil
}

func (f *fakeAnnotator) Classify(_ context.Context, image []byte, _ string) (domain.ApparelType, error) {
	a, flags := f.get(image)
	if flags.failClass {
		return "", errModelDown
	}
	return a.category, nil
}

// fakeEmbedder returns fixed, unnormalized vectors keyed by image content or text.
type fakeEmbedder struct {
	mu       sync.Mutex
	images   map[string][]float32
	texts    map[string][]float32
	fallback []float32
	failNext bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		images:   make(map[string][]float32),
		texts:    make(map[string][]float32),
		fallback: []float32{1, 1, 1},
	}
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, image []byte, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, errModelDown)
	}
	if v, ok := f.images[string(image)]; ok {
		return v, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.texts[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

// fakeSuggester echoes a fixed answer and records every prompt it saw.
type fakeSuggester struct {
	mu      sync.Mutex
	answer  func(prompt string) string
	prompts []string
	err     error
}

func (f *fakeSuggester) Suggest(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.answer == nil {
		return "anything", nil
	}
	return f.answer(prompt), nil
}

func (f *fakeSuggester) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// testEnv wires real storage, metadata and index implementations around
// fake model clients.
type testEnv struct {
	store       *repository.ItemRepository
	index       *index.MemoryIndex
	storage     *storage.LocalStorage
	pool        *WorkerPool
	annotator   *fakeAnnotator
	embedder    *fakeEmbedder
	suggester   *fakeSuggester
	pipeline    *PipelineService
	recommender *RecommendService
	wardrobe    *WardrobeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.New(&logger.Config{Level: "error", Format: "text", Output: &bytes.Buffer{}, ServiceName: "test"})

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	objects, err := storage.NewLocalStorage(t.TempDir(), "/static/uploads")
	require.NoError(t, err)

	pool := NewWorkerPool(&WorkerPoolConfig{Workers: 3, QueueSize: 16})
	t.Cleanup(pool.Close)

	env := &testEnv{
		store:     repository.NewItemRepository(db),
		index:     index.NewMemoryIndex(testDimensions),
		storage:   objects,
		pool:      pool,
		annotator: newFakeAnnotator(),
		embedder:  newFakeEmbedder(),
		suggester: &fakeSuggester{},
	}
	env.pipeline = NewPipelineService(&PipelineDeps{
		Store:     env.store,
		Index:     env.index,
		Storage:   env.storage,
		Annotator: env.annotator,
		Embedder:  env.embedder,
		Pool:      pool,
		Logger:    log,
	})
	env.recommender = NewRecommendService(&RecommendDeps{
		Store:     env.store,
		Index:     env.index,
		Embedder:  env.embedder,
		Suggester: env.suggester,
		Storage:   env.storage,
		Pool:      pool,
		Logger:    log,
	})
	env.wardrobe = NewWardrobeService(env.store, env.index, env.storage, env.pipeline, log)
	return env
}

// seed stores an image and creates its pending item without running the pipeline.
func (e *testEnv) seed(t *testing.T, username, imageID, filename, content string) *domain.Item {
	t.Helper()
	ctx := context.Background()

	key := username + "/" + filename
	require.NoError(t, e.storage.Upload(ctx, key, strings.NewReader(content), int64(len(content)), "image/png"))

	item := &domain.Item{
		ImageID:          imageID,
		Username:         username,
		Filename:         filename,
		Description:      domain.PlaceholderText,
		Title:            domain.PlaceholderText,
		ApparelType:      domain.ApparelType(domain.PlaceholderText),
		ProcessingStatus: domain.ProcessingStatusPending,
	}
	require.NoError(t, e.store.Create(ctx, item))
	return item
}

// process runs the pipeline for an item and waits for it.
func (e *testEnv) process(t *testing.T, item *domain.Item) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := e.pipeline.Start(ctx, item.ImageID, item.Filename, item.StorageKey())
	require.NoError(t, err)
	ok, _ := job.Wait(ctx)
	require.NoError(t, ctx.Err())
	return ok
}

// addCompleted seeds an item and runs it through the pipeline with the given
// annotation and image vector.
func (e *testEnv) addCompleted(t *testing.T, username, imageID string, a annotation, vector []float32) *domain.Item {
	t.Helper()
	content := "image-" + imageID
	e.annotator.set(content, a)
	e.embedder.mu.Lock()
	e.embedder.images[content] = vector
	e.embedder.mu.Unlock()

	item := e.seed(t, username, imageID, imageID+".png", content)
	require.True(t, e.process(t, item))
	return item
}

func (e *testEnv) item(t *testing.T, username, imageID string) *domain.Item {
	t.Helper()
	item, err := e.store.GetByID(context.Background(), username, imageID)
	require.NoError(t, err)
	return item
}
