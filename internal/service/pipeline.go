package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/metrics"
	"github.com/timmy/wardrobe/internal/storage"
	"golang.org/x/sync/errgroup"
)

// AnnotationDefaults are the values used when a single annotation call fails.
// Absorbing these failures keeps a partially annotated item usable; every
// fallback is logged and counted.
type AnnotationDefaults struct {
	Description string
	Title       string
	Category    domain.ApparelType
}

// DefaultAnnotation is the fallback policy applied by the pipeline.
var DefaultAnnotation = AnnotationDefaults{
	Description: "Error generating description",
	Title:       "Untitled Item",
	Category:    domain.ApparelTop,
}

// JobStage is the in-memory stage of a running pipeline job.
// It is finer grained than the persisted ProcessingStatus.
type JobStage string

const (
	StageQueued     JobStage = "queued"
	StageAnnotating JobStage = "annotating"
	StageEmbedding  JobStage = "processing_embeddings"
	StageCompleted  JobStage = "completed"
	StageFailed     JobStage = "error"
)

// PipelineJob is the handle of one pipeline run.
type PipelineJob struct {
	ID       string
	ImageID  string
	Filename string
	Path     string

	mu    sync.RWMutex
	stage JobStage
	done  chan struct{}
	ok    bool
	err   error
}

func newPipelineJob(imageID, filename, imagePath string) *PipelineJob {
	return &PipelineJob{
		ID:       uuid.NewString(),
		ImageID:  imageID,
		Filename: filename,
		Path:     imagePath,
		stage:    StageQueued,
		done:     make(chan struct{}),
	}
}

// Stage returns the job's current stage.
func (j *PipelineJob) Stage() JobStage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stage
}

func (j *PipelineJob) setStage(stage JobStage) {
	j.mu.Lock()
	j.stage = stage
	j.mu.Unlock()
}

func (j *PipelineJob) finish(err error) {
	j.mu.Lock()
	j.ok = err == nil
	j.err = err
	if err == nil {
		j.stage = StageCompleted
	} else {
		j.stage = StageFailed
	}
	j.mu.Unlock()
	close(j.done)
}

// Done is closed when the run has finished.
func (j *PipelineJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the run finishes and reports whether the item reached completed.
func (j *PipelineJob) Wait(ctx context.Context) (bool, error) {
	select {
	case <-j.done:
		j.mu.RLock()
		defer j.mu.RUnlock()
		return j.ok, j.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// PipelineService drives items from pending to completed or error.
type PipelineService struct {
	store     MetadataStore
	index     VectorIndex
	storage   storage.ObjectStorage
	annotator Annotator
	embedder  Embedder
	pool      *WorkerPool
	metrics   *metrics.Metrics
	defaults  AnnotationDefaults
	logger    *logger.Logger

	mu   sync.Mutex
	jobs map[string]*PipelineJob // in-flight runs by image id
}

// PipelineDeps bundles the collaborators of the pipeline.
type PipelineDeps struct {
	Store     MetadataStore
	Index     VectorIndex
	Storage   storage.ObjectStorage
	Annotator Annotator
	Embedder  Embedder
	Pool      *WorkerPool
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// NewPipelineService creates a new pipeline service.
func NewPipelineService(deps *PipelineDeps) *PipelineService {
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &PipelineService{
		store:     deps.Store,
		index:     deps.Index,
		storage:   deps.Storage,
		annotator: deps.Annotator,
		embedder:  deps.Embedder,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		defaults:  DefaultAnnotation,
		logger:    log.WithField(logger.FieldComponent, "pipeline"),
		jobs:      make(map[string]*PipelineJob),
	}
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *PipelineService) log(ctx context.Context) *logger.Logger {
	if _, ok := logger.GetField(ctx, logger.FieldComponent); ok {
		return logger.FromContext(ctx)
	}
	return s.logger
}

// Start queues a pipeline run for an item and returns without waiting for it.
// Parameters:
//   - ctx: request context; only used while queueing.
//   - imageID: item to process.
//   - filename: stored file name of the image.
//   - imagePath: storage key of the image, "<username>/<filename>".
//
// Returns:
//   - *PipelineJob: handle to await; an already running job for imageID is returned as is.
//   - error: non-nil if the job could not be queued.
func (s *PipelineService) Start(ctx context.Context, imageID, filename, imagePath string) (*PipelineJob, error) {
	s.mu.Lock()
	if job, ok := s.jobs[imageID]; ok {
		s.mu.Unlock()
		return job, nil
	}
	job := newPipelineJob(imageID, filename, imagePath)
	s.jobs[imageID] = job
	s.mu.Unlock()

	jobCtx := logger.WithFields(context.WithoutCancel(ctx), logger.Fields{
		logger.FieldJobID:     job.ID,
		logger.FieldImageID:   imageID,
		logger.FieldComponent: "pipeline",
	})

	_, err := s.pool.Submit(ctx, jobCtx, func(taskCtx context.Context) error {
		err := s.run(taskCtx, job)
		s.release(job)
		job.finish(err)
		return err
	})
	if err != nil {
		s.release(job)
		return nil, fmt.Errorf("failed to queue pipeline job: %w", err)
	}

	s.log(jobCtx).Debug("Pipeline job queued")
	return job, nil
}

func (s *PipelineService) release(job *PipelineJob) {
	s.mu.Lock()
	if s.jobs[job.ImageID] == job {
		delete(s.jobs, job.ImageID)
	}
	s.mu.Unlock()
}

// Job returns the in-flight job for imageID, if any.
func (s *PipelineService) Job(imageID string) (*PipelineJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[imageID]
	return job, ok
}

// Status reports the processing status of an item.
// Running jobs are answered from memory; everything else from the store.
func (s *PipelineService) Status(ctx context.Context, imageID string) (domain.ProcessingStatus, error) {
	if job, ok := s.Job(imageID); ok {
		switch job.Stage() {
		case StageEmbedding:
			return domain.ProcessingStatusEmbedding, nil
		case StageQueued, StageAnnotating:
			return domain.ProcessingStatusPending, nil
		}
	}

	username, err := s.store.OwnerOf(ctx, imageID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return domain.ProcessingStatusNotFound, nil
	}
	if err != nil {
		return "", err
	}

	item, err := s.store.GetByID(ctx, username, imageID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return domain.ProcessingStatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return item.ProcessingStatus, nil
}

// Reprocess starts a new run for an existing item, typically one in error.
func (s *PipelineService) Reprocess(ctx context.Context, imageID string) (*PipelineJob, error) {
	username, err := s.store.OwnerOf(ctx, imageID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetByID(ctx, username, imageID)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, item.ImageID, item.Filename, item.StorageKey())
}

// UsernameFromPath returns the directory segment right before the file name.
// It returns "" when the path has no such segment.
func UsernameFromPath(imagePath string) string {
	clean := path.Clean(strings.ReplaceAll(imagePath, "\\", "/"))
	dir := path.Dir(clean)
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

// resolveOwner derives the username from the storage path and checks it
// against the owner index. On a mismatch the indexed owner is still returned
// with the error.
func (s *PipelineService) resolveOwner(ctx context.Context, imageID, imagePath string) (string, error) {
	derived := UsernameFromPath(imagePath)

	indexed, err := s.store.OwnerOf(ctx, imageID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner of %s: %w", imageID, err)
	}

	if derived != "" && derived != indexed {
		return indexed, fmt.Errorf("%w: image %s stored under %q but owned by %q",
			domain.ErrInconsistency, imageID, derived, indexed)
	}
	return indexed, nil
}

func (s *PipelineService) run(ctx context.Context, job *PipelineJob) error {
	start := time.Now()

	username, err := s.resolveOwner(ctx, job.ImageID, job.Path)
	if err != nil {
		if username != "" {
			s.markError(logger.SetUsername(ctx, username), username, job.ImageID)
		}
		s.log(ctx).WithError(err).Error("Pipeline aborted before start")
		s.metrics.RecordPipelineRun("error", time.Since(start))
		return err
	}
	ctx = logger.SetUsername(ctx, username)

	if _, err := s.store.GetByID(ctx, username, job.ImageID); err != nil {
		s.markError(ctx, username, job.ImageID)
		s.metrics.RecordPipelineRun("error", time.Since(start))
		return fmt.Errorf("failed to load item: %w", err)
	}

	if err := s.process(ctx, job, username); err != nil {
		s.markError(ctx, username, job.ImageID)
		logger.Since(start).WithStatus(string(domain.ProcessingStatusError)).
			Error(ctx, "Pipeline run failed: %v", err)
		s.metrics.RecordPipelineRun("error", time.Since(start))
		return err
	}

	logger.Since(start).WithStatus(string(domain.ProcessingStatusCompleted)).
		Info(ctx, "Pipeline run completed")
	s.metrics.RecordPipelineRun("completed", time.Since(start))
	return nil
}

func (s *PipelineService) process(ctx context.Context, job *PipelineJob, username string) error {
	job.setStage(StageAnnotating)

	image, err := storage.ReadAll(ctx, s.storage, job.Path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(path.Ext(job.Filename)), ".")

	ann := s.annotate(ctx, image, format)

	embeddingStatus := domain.ProcessingStatusEmbedding
	if _, err := s.store.Update(ctx, username, job.ImageID, domain.ItemPatch{
		Description:      &ann.Description,
		Title:            &ann.Title,
		ApparelType:      &ann.Category,
		ProcessingStatus: &embeddingStatus,
	}); err != nil {
		return fmt.Errorf("failed to save annotation: %w", err)
	}
	job.setStage(StageEmbedding)

	raw, err := s.embedder.EmbedImage(ctx, image, format)
	if err != nil {
		return fmt.Errorf("failed to embed image: %w", err)
	}
	vector, err := domain.Normalize(raw)
	if err != nil {
		return fmt.Errorf("failed to normalize embedding: %w", err)
	}

	if err := s.indexItem(ctx, username, job, ann, vector); err != nil {
		return err
	}

	if _, err := s.store.Update(ctx, username, job.ImageID, domain.StatusPatch(domain.ProcessingStatusCompleted)); err != nil {
		return fmt.Errorf("failed to mark item completed: %w", err)
	}
	return nil
}

// annotate runs the three annotation calls concurrently. Each failure is
// replaced by its default; the run never aborts here.
func (s *PipelineService) annotate(ctx context.Context, image []byte, format string) AnnotationDefaults {
	ann := s.defaults
	var g errgroup.Group

	g.Go(func() error {
		desc, err := s.annotator.Describe(ctx, image, format)
		if err != nil || strings.TrimSpace(desc) == "" {
			s.fallback(ctx, "description", err)
			return nil
		}
		ann.Description = desc
		return nil
	})
	g.Go(func() error {
		title, err := s.annotator.Title(ctx, image, format)
		if err != nil || strings.TrimSpace(title) == "" {
			s.fallback(ctx, "title", err)
			return nil
		}
		ann.Title = title
		return nil
	})
	g.Go(func() error {
		category, err := s.annotator.Classify(ctx, image, format)
		if err != nil || !category.Valid() {
			s.fallback(ctx, "category", err)
			return nil
		}
		ann.Category = category
		return nil
	})

	_ = g.Wait()
	return ann
}

func (s *PipelineService) fallback(ctx context.Context, step string, err error) {
	s.metrics.RecordAnnotationFallback(step)
	entry := s.log(ctx).WithField("step", step)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Annotation step failed, using default")
}

// indexItem writes the item's single vector into the (username, category) index.
// A vector left from an earlier run is replaced, and any copy in another
// category's index is removed.
func (s *PipelineService) indexItem(ctx context.Context, username string, job *PipelineJob, ann AnnotationDefaults, vector []float32) error {
	for _, category := range domain.ApparelTypes {
		if category == ann.Category {
			continue
		}
		old := domain.IndexHandle{Username: username, Category: category}
		if err := s.index.Delete(ctx, old, domain.VectorID(username, category, job.ImageID)); err != nil {
			return fmt.Errorf("failed to remove stale vector from %s index: %w", category, err)
		}
	}

	handle, err := s.index.Ensure(ctx, username, ann.Category)
	if err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	record := domain.VectorRecord{
		ID:       domain.VectorID(username, ann.Category, job.ImageID),
		Vector:   vector,
		Document: ann.Description,
		Metadata: domain.VectorMetadata{
			ImageID:   job.ImageID,
			Filename:  job.Filename,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Username:  username,
			Category:  ann.Category,
		},
	}

	err = s.index.Insert(ctx, handle, record)
	if errors.Is(err, domain.ErrDuplicateID) {
		s.log(ctx).WithField(logger.FieldCategory, ann.Category).Info("Replacing vector from an earlier run")
		if err := s.index.Delete(ctx, handle, record.ID); err != nil {
			return fmt.Errorf("failed to remove earlier vector: %w", err)
		}
		err = s.index.Insert(ctx, handle, record)
	}
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	return nil
}

func (s *PipelineService) markError(ctx context.Context, username, imageID string) {
	if _, err := s.store.Update(ctx, username, imageID, domain.StatusPatch(domain.ProcessingStatusError)); err != nil {
		s.log(ctx).WithError(err).Error("Failed to mark item as error")
	}
}

// RetryStats holds statistics for a retry run.
type RetryStats struct {
	TotalItems     int64
	CompletedItems int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// Retry re-runs every item whose status is one of statuses and waits for all runs.
func (s *PipelineService) Retry(ctx context.Context, statuses ...domain.ProcessingStatus) (*RetryStats, error) {
	stats := &RetryStats{StartTime: time.Now()}

	items, err := s.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	stats.TotalItems = int64(len(items))

	s.log(ctx).WithField(logger.FieldCount, len(items)).Info("Starting retry")

	jobs := make([]*PipelineJob, 0, len(items))
	for i := range items {
		item := &items[i]
		job, err := s.Start(ctx, item.ImageID, item.Filename, item.StorageKey())
		if err != nil {
			stats.FailedItems++
			s.log(ctx).WithField(logger.FieldImageID, item.ImageID).WithError(err).Error("Failed to queue retry")
			continue
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		ok, err := job.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ok {
			stats.CompletedItems++
		} else {
			stats.FailedItems++
		}
	}

	stats.EndTime = time.Now()
	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"completed": stats.CompletedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Retry completed")

	return stats, nil
}
