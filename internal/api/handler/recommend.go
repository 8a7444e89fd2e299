package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/service"
)

// RecommendHandler handles outfit recommendation endpoints.
type RecommendHandler struct {
	recommender *service.RecommendService
}

// NewRecommendHandler creates a new recommendation handler.
func NewRecommendHandler(recommender *service.RecommendService) *RecommendHandler {
	return &RecommendHandler{recommender: recommender}
}

// RandomRequest is the body of POST /api/v1/recommendations/random.
type RandomRequest struct {
	Username string `json:"username" binding:"required"`
}

// ApparelRequest is the body of POST /api/v1/recommendations/apparel.
type ApparelRequest struct {
	Username    string `json:"username" binding:"required"`
	ImageID     string `json:"image_id" binding:"required"`
	Description string `json:"description"`
	ApparelType string `json:"apparel_type"`
}

// TextRequest is the body of POST /api/v1/recommendations/text.
type TextRequest struct {
	Username  string `json:"username" binding:"required"`
	InputText string `json:"input_text"`
}

// Random handles POST /api/v1/recommendations/random.
func (h *RecommendHandler) Random(c *gin.Context) {
	var req RandomRequest
	if !bindRequest(c, &req) {
		return
	}
	rec, err := h.recommender.RecommendRandom(c.Request.Context(), req.Username)
	respondRecommendation(c, rec, err)
}

// Apparel handles POST /api/v1/recommendations/apparel.
func (h *RecommendHandler) Apparel(c *gin.Context) {
	var req ApparelRequest
	if !bindRequest(c, &req) {
		return
	}
	rec, err := h.recommender.RecommendForItem(c.Request.Context(), service.ItemRecommendationRequest{
		Username:    req.Username,
		ImageID:     req.ImageID,
		Description: req.Description,
		ApparelType: req.ApparelType,
	})
	respondRecommendation(c, rec, err)
}

// Text handles POST /api/v1/recommendations/text.
func (h *RecommendHandler) Text(c *gin.Context) {
	var req TextRequest
	if !bindRequest(c, &req) {
		return
	}
	rec, err := h.recommender.RecommendFromText(c.Request.Context(), req.Username, req.InputText)
	respondRecommendation(c, rec, err)
}

func bindRequest(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"code":   domain.CodeInvalidInput,
			"error":  "Invalid request: " + err.Error(),
		})
		return false
	}
	return true
}

func respondRecommendation(c *gin.Context, rec *domain.Recommendation, err error) {
	if err == nil {
		c.JSON(http.StatusOK, rec)
		return
	}

	recErr, ok := domain.AsRecommendationError(err)
	if !ok {
		recErr = domain.NewRecommendationError(domain.CodeUpstreamFailure, "Recommendation could not be completed", err)
	}
	c.JSON(kindStatus(recErr.Kind()), gin.H{
		"status": "error",
		"code":   recErr.Code,
		"kind":   recErr.Kind(),
		"error":  recErr.Message,
	})
}
