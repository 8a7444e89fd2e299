package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/storage"
	_ "golang.org/x/image/webp"
)

// AllowedExtensions are the image formats accepted at upload.
var AllowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// WardrobeService manages a user's items: uploads, listing and bulk clear.
type WardrobeService struct {
	store    MetadataStore
	index    VectorIndex
	storage  storage.ObjectStorage
	pipeline *PipelineService
	logger   *logger.Logger
}

// NewWardrobeService creates a new wardrobe service.
func NewWardrobeService(store MetadataStore, index VectorIndex, objectStorage storage.ObjectStorage, pipeline *PipelineService, log *logger.Logger) *WardrobeService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &WardrobeService{
		store:    store,
		index:    index,
		storage:  objectStorage,
		pipeline: pipeline,
		logger:   log.WithField(logger.FieldComponent, "wardrobe"),
	}
}

// UploadRequest is one uploaded image.
type UploadRequest struct {
	Username string
	Filename string
	Data     []byte
}

// UploadResult describes the stored item.
type UploadResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	ImageID  string `json:"image_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	ImageURL string `json:"image_url"`
	JobID    string `json:"job_id,omitempty"`
}

// ItemView is an item with its public image URL.
type ItemView struct {
	domain.Item
	ImageURL string `json:"image_url"`
}

// Upload stores the image, creates a pending item and starts the pipeline.
// Parameters:
//   - ctx: request context.
//   - req: owner, original file name and image bytes.
//
// Returns:
//   - *UploadResult: the created item; the pipeline may still be running.
//   - error: wraps domain.ErrInvalidInput for bad names or unsupported images.
func (s *WardrobeService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	username, err := CleanUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}

	filename := SecureFilename(req.Filename)
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if filename == "" || !AllowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidInput, req.Filename)
	}

	width, height, err := getImageDimensions(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable image: %v", domain.ErrInvalidInput, err)
	}

	filename, err = s.uniqueFilename(ctx, username, filename)
	if err != nil {
		return nil, err
	}
	key := username + "/" + filename

	if err := s.storage.Upload(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), getMIMEType(ext)); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	item := &domain.Item{
		ImageID:          uuid.NewString(),
		Username:         username,
		Filename:         filename,
		Description:      domain.PlaceholderText,
		Title:            domain.PlaceholderText,
		ApparelType:      domain.ApparelType(domain.PlaceholderText),
		ProcessingStatus: domain.ProcessingStatusPending,
		Pairs:            domain.StringArray{},
		Width:            width,
		Height:           height,
	}
	if err := s.store.Create(ctx, item); err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	ctx = logger.SetImageID(logger.SetUsername(ctx, username), item.ImageID)
	result := &UploadResult{
		Status:   "success",
		Message:  "File uploaded successfully",
		ImageID:  item.ImageID,
		Filename: filename,
		Path:     key,
		ImageURL: s.storage.GetURL(key),
	}

	// The item stays pending for a later retry when the pipeline can't take it.
	job, err := s.pipeline.Start(ctx, item.ImageID, filename, key)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to start processing: %v", err)
		return result, nil
	}
	result.JobID = job.ID

	logger.With(logger.Fields{
		logger.FieldSize:  len(req.Data),
		logger.FieldJobID: job.ID,
	}).Info(ctx, "Item uploaded: %s (%dx%d)", filename, width, height)
	return result, nil
}

// uniqueFilename appends _1, _2, ... to the base name until the key is free.
func (s *WardrobeService) uniqueFilename(ctx context.Context, username, filename string) (string, error) {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	candidate := filename
	for counter := 1; ; counter++ {
		exists, err := s.storage.Exists(ctx, username+"/"+candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check existing upload: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
}

// List returns the user's wardrobe in upload order.
func (s *WardrobeService) List(ctx context.Context, username string) ([]ItemView, error) {
	username, err := CleanUsername(username)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListByUser(ctx, username)
	if err != nil {
		return nil, err
	}

	views := make([]ItemView, 0, len(items))
	for i := range items {
		views = append(views, s.view(&items[i]))
	}
	return views, nil
}

// Get returns one item by image id, whoever owns it.
func (s *WardrobeService) Get(ctx context.Context, imageID string) (*ItemView, error) {
	username, err := s.store.OwnerOf(ctx, imageID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetByID(ctx, username, imageID)
	if err != nil {
		return nil, err
	}
	view := s.view(item)
	return &view, nil
}

func (s *WardrobeService) view(item *domain.Item) ItemView {
	return ItemView{Item: *item, ImageURL: s.storage.GetURL(item.StorageKey())}
}

// ClearStats reports what a bulk clear removed.
type ClearStats struct {
	Items   int `json:"items"`
	Indexes int `json:"indexes"`
	Objects int `json:"objects"`
}

// Clear removes every item of a user together with the owner entries, the
// user's vector indexes and the stored images.
// Metadata goes first so a failing cleanup never leaves records pointing at
// missing objects.
func (s *WardrobeService) Clear(ctx context.Context, username string) (*ClearStats, error) {
	username, err := CleanUsername(username)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetUsername(ctx, username)

	removed, err := s.store.ClearUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to clear items: %w", err)
	}
	stats := &ClearStats{Items: len(removed)}

	var errs []error
	for _, category := range domain.ApparelTypes {
		handle := domain.IndexHandle{Username: username, Category: category}
		if err := s.index.Drop(ctx, handle); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop index %s: %w", handle.Name(), err))
			continue
		}
		stats.Indexes++
	}

	for i := range removed {
		if err := s.storage.Delete(ctx, removed[i].StorageKey()); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", removed[i].StorageKey(), err))
			continue
		}
		stats.Objects++
	}

	logger.With(logger.Fields{
		"items":   stats.Items,
		"indexes": stats.Indexes,
		"objects": stats.Objects,
	}).Info(ctx, "Wardrobe cleared")

	return stats, errors.Join(errs...)
}

// CleanUsername validates a username used as a path segment and index name part.
func CleanUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if unsafeFilenameChars.MatchString(username) || strings.Contains(username, "..") {
		return "", fmt.Errorf("%w: username %q contains invalid characters", domain.ErrInvalidInput, username)
	}
	return username, nil
}

// SecureFilename reduces a client supplied name to a safe base name.
func SecureFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func getImageDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}
