package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/metrics"
	"github.com/timmy/wardrobe/internal/prompts"
	"github.com/timmy/wardrobe/internal/storage"
)

// Recommendation flows, used in logs and metrics.
const (
	FlowRandom  = "random"
	FlowApparel = "apparel"
	FlowText    = "text"
)

// RecommendService pairs wardrobe items by searching a category index with a
// generated description of the ideal complement.
type RecommendService struct {
	store     MetadataStore
	index     VectorIndex
	embedder  Embedder
	suggester Suggester
	storage   storage.ObjectStorage
	pool      *WorkerPool
	metrics   *metrics.Metrics
	logger    *logger.Logger
	pick      func(n int) int
}

// RecommendDeps bundles the collaborators of the recommender.
// Pool may be nil, in which case requests run on the caller's goroutine.
type RecommendDeps struct {
	Store     MetadataStore
	Index     VectorIndex
	Embedder  Embedder
	Suggester Suggester
	Storage   storage.ObjectStorage
	Pool      *WorkerPool
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// NewRecommendService creates a new recommendation service.
func NewRecommendService(deps *RecommendDeps) *RecommendService {
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &RecommendService{
		store:     deps.Store,
		index:     deps.Index,
		embedder:  deps.Embedder,
		suggester: deps.Suggester,
		storage:   deps.Storage,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		logger:    log.WithField(logger.FieldComponent, "recommend"),
		pick:      rand.IntN,
	}
}

// ItemRecommendationRequest anchors a recommendation on an existing item.
// Description and ApparelType override the stored values when set.
type ItemRecommendationRequest struct {
	Username    string
	ImageID     string
	Description string
	ApparelType string
}

// RecommendRandom completes an outfit around a random bottom of the user.
func (s *RecommendService) RecommendRandom(ctx context.Context, username string) (*domain.Recommendation, error) {
	return s.dispatch(ctx, FlowRandom, username, func(ctx context.Context) (*domain.Recommendation, error) {
		items, err := s.store.ListByUser(ctx, username)
		if err != nil {
			return nil, upstream("Could not load wardrobe", err)
		}
		if len(items) == 0 {
			return nil, domain.NewRecommendationError(domain.CodeNoItemsFound, "No items found", nil)
		}

		var bottoms []domain.Item
		for _, item := range items {
			if item.ApparelType == domain.ApparelBottom {
				bottoms = append(bottoms, item)
			}
		}
		if len(bottoms) == 0 {
			return nil, domain.NewRecommendationError(domain.CodeNoBottomFound, "No bottom apparel found", nil)
		}

		anchor := bottoms[s.pick(len(bottoms))]
		ctx = logger.SetImageID(ctx, anchor.ImageID)

		match, err := s.match(ctx, username, anchor.ImageID, domain.ApparelTop, prompts.RandomTop(anchor.Description))
		if err != nil {
			return nil, err
		}
		return s.pair(ctx, &anchor, match)
	})
}

// RecommendForItem completes an outfit around the given item.
// Tops and outerwear get a bottom; everything else gets a top.
func (s *RecommendService) RecommendForItem(ctx context.Context, req ItemRecommendationRequest) (*domain.Recommendation, error) {
	return s.dispatch(ctx, FlowApparel, req.Username, func(ctx context.Context) (*domain.Recommendation, error) {
		if strings.TrimSpace(req.ImageID) == "" {
			return nil, domain.NewRecommendationError(domain.CodeInvalidInput, "An item must be selected", nil)
		}
		ctx = logger.SetImageID(ctx, req.ImageID)

		anchor, err := s.store.GetByID(ctx, req.Username, req.ImageID)
		if errors.Is(err, domain.ErrItemNotFound) {
			return nil, domain.NewRecommendationError(domain.CodeItemNotFound, "Selected item not found", err)
		}
		if err != nil {
			return nil, upstream("Could not load the selected item", err)
		}

		apparelType := anchor.ApparelType
		if req.ApparelType != "" {
			parsed, ok := domain.ParseApparelType(req.ApparelType)
			if !ok {
				return nil, domain.NewRecommendationError(domain.CodeInvalidInput,
					fmt.Sprintf("Unknown apparel type %q", req.ApparelType), nil)
			}
			apparelType = parsed
		}
		if !apparelType.Valid() {
			return nil, domain.NewRecommendationError(domain.CodeInvalidInput,
				"Selected item has not been categorized yet", nil)
		}

		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = anchor.Description
		}

		target := apparelType.Complement()
		match, err := s.match(ctx, req.Username, anchor.ImageID, target,
			prompts.Complement(string(apparelType), description, string(target)))
		if err != nil {
			return nil, err
		}
		return s.pair(ctx, anchor, match)
	})
}

// RecommendFromText builds a bottom and a matching top from a free-text requirement.
// The matched bottom's description seeds the top suggestion.
func (s *RecommendService) RecommendFromText(ctx context.Context, username, text string) (*domain.Recommendation, error) {
	return s.dispatch(ctx, FlowText, username, func(ctx context.Context) (*domain.Recommendation, error) {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, domain.NewRecommendationError(domain.CodeInvalidInput, "Please describe what you are looking for", nil)
		}

		items, err := s.store.ListByUser(ctx, username)
		if err != nil {
			return nil, upstream("Could not load wardrobe", err)
		}
		if len(items) == 0 {
			return nil, domain.NewRecommendationError(domain.CodeNoItemsFound, "No items found", nil)
		}

		bottom, err := s.match(ctx, username, "", domain.ApparelBottom, prompts.TextBottom(text))
		if err != nil {
			return nil, err
		}

		top, err := s.match(ctx, username, bottom.ImageID, domain.ApparelTop, prompts.TextTop(text, bottom.Description))
		if err != nil {
			return nil, err
		}
		return s.pair(ctx, bottom, top)
	})
}

// dispatch runs a flow on the worker pool and records its outcome.
// Every failure leaves as a *domain.RecommendationError.
func (s *RecommendService) dispatch(ctx context.Context, flow, username string, fn func(ctx context.Context) (*domain.Recommendation, error)) (*domain.Recommendation, error) {
	start := time.Now()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "recommend",
		logger.FieldFlow:      flow,
		logger.FieldUsername:  username,
	})

	var rec *domain.Recommendation
	var err error
	if strings.TrimSpace(username) == "" {
		err = domain.NewRecommendationError(domain.CodeInvalidInput, "A username is required", nil)
	} else if s.pool == nil {
		rec, err = fn(ctx)
	} else {
		var future *Future
		future, err = s.pool.Submit(ctx, ctx, func(taskCtx context.Context) error {
			var taskErr error
			rec, taskErr = fn(taskCtx)
			return taskErr
		})
		if err == nil {
			err = future.Wait(ctx)
		}
	}

	recErr := asRecommendationError(err)
	code := "ok"
	if recErr != nil {
		code = string(recErr.Code)
		entry := logger.Since(start).WithStatus(code)
		if recErr.Kind() == domain.KindNotFound || recErr.Kind() == domain.KindInvalidInput {
			entry.Info(ctx, "Recommendation not produced: %s", recErr.Message)
		} else {
			entry.Error(ctx, "Recommendation failed: %v", recErr)
		}
		s.metrics.RecordRecommendation(flow, code, time.Since(start))
		return nil, recErr
	}

	logger.Since(start).WithStatus(code).Info(ctx, "Recommended %s for %s",
		rec.RecommendedItem.ImageID, rec.BaseItem.ImageID)
	s.metrics.RecordRecommendation(flow, code, time.Since(start))
	return rec, nil
}

// match generates a target description, embeds it and returns the closest
// item of the target category.
func (s *RecommendService) match(ctx context.Context, username, anchorID string, target domain.ApparelType, prompt string) (*domain.Item, error) {
	suggestion, err := s.suggester.Suggest(ctx, prompt)
	if err != nil {
		return nil, upstream("Could not generate a suggestion", err)
	}

	raw, err := s.embedder.EmbedText(ctx, suggestion)
	if err != nil {
		return nil, upstream("Could not embed the suggestion", err)
	}
	vector, err := domain.Normalize(raw)
	if err != nil {
		return nil, upstream("Could not embed the suggestion", err)
	}

	handle, err := s.index.Ensure(ctx, username, target)
	if err != nil {
		return nil, upstream("Could not open the wardrobe index", err)
	}
	matches, err := s.index.Query(ctx, handle, vector, 1)
	if err != nil {
		return nil, upstream("Could not search the wardrobe index", err)
	}

	noMatch := fmt.Sprintf("No matching %s found", target)
	if len(matches) == 0 {
		return nil, domain.NewRecommendationError(domain.CodeNoMatchFound, noMatch, nil)
	}

	best := matches[0]
	if best.Metadata.ImageID == anchorID {
		return nil, domain.NewRecommendationError(domain.CodeNoMatchFound, noMatch, nil)
	}

	logger.With(logger.Fields{logger.FieldCategory: target}).WithScore(best.Score).
		Debug(ctx, "Best %s match %s for suggestion %q", target, best.Metadata.ImageID, suggestion)

	item, err := s.store.GetByID(ctx, username, best.Metadata.ImageID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return nil, domain.NewRecommendationError(domain.CodeMetadataInconsistency,
			fmt.Sprintf("Could not find matching %s metadata", target),
			fmt.Errorf("%w: vector %s has no item record", domain.ErrInconsistency, best.ID))
	}
	if err != nil {
		return nil, upstream("Could not load the matched item", err)
	}
	return item, nil
}

// pair records the symmetric link and builds the response.
func (s *RecommendService) pair(ctx context.Context, base, recommended *domain.Item) (*domain.Recommendation, error) {
	err := s.store.AddPair(ctx, base.Username, base.ImageID, recommended.ImageID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return nil, domain.NewRecommendationError(domain.CodeMetadataInconsistency, "Paired item disappeared", err)
	}
	if err != nil {
		return nil, upstream("Could not record the pairing", err)
	}

	return &domain.Recommendation{
		Status:          "success",
		BaseItem:        s.outfitItem(base),
		RecommendedItem: s.outfitItem(recommended),
	}, nil
}

func (s *RecommendService) outfitItem(item *domain.Item) domain.OutfitItem {
	return domain.OutfitItem{
		ImageID:     item.ImageID,
		ImageURL:    s.storage.GetURL(item.StorageKey()),
		Description: item.Description,
		Title:       item.Title,
		Type:        item.ApparelType,
	}
}

func upstream(message string, err error) *domain.RecommendationError {
	return domain.NewRecommendationError(domain.CodeUpstreamFailure, message, err)
}

func asRecommendationError(err error) *domain.RecommendationError {
	if err == nil {
		return nil
	}
	if recErr, ok := domain.AsRecommendationError(err); ok {
		return recErr
	}
	return upstream("Recommendation could not be completed", err)
}
