package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/service"
)

// maxUploadSize caps a single uploaded image.
const maxUploadSize = 20 << 20

// ItemHandler handles wardrobe item endpoints.
type ItemHandler struct {
	wardrobe *service.WardrobeService
	pipeline *service.PipelineService
}

// NewItemHandler creates a new item handler.
// Parameters:
//   - wardrobe: wardrobe service instance.
//   - pipeline: annotation pipeline instance.
//
// Returns:
//   - *ItemHandler: initialized handler.
func NewItemHandler(wardrobe *service.WardrobeService, pipeline *service.PipelineService) *ItemHandler {
	return &ItemHandler{
		wardrobe: wardrobe,
		pipeline: pipeline,
	}
}

// Upload handles POST /api/v1/users/:username/items.
// Parameters:
//   - c: Gin request context with a multipart "file" field.
//
// Returns: none (writes JSON response).
func (h *ItemHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "No file selected",
		})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"status": "error",
			"error":  "File too large",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Failed to read upload: " + err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Failed to read upload: " + err.Error(),
		})
		return
	}

	result, err := h.wardrobe.Upload(c.Request.Context(), &service.UploadRequest{
		Username: c.Param("username"),
		Filename: fileHeader.Filename,
		Data:     data,
	})
	if err != nil {
		respondError(c, "Upload failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// List handles GET /api/v1/users/:username/items.
func (h *ItemHandler) List(c *gin.Context) {
	items, err := h.wardrobe.List(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, "Failed to list items", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// Clear handles DELETE /api/v1/users/:username/items.
func (h *ItemHandler) Clear(c *gin.Context) {
	stats, err := h.wardrobe.Clear(c.Request.Context(), c.Param("username"))
	if stats == nil {
		respondError(c, "Failed to clear wardrobe", err)
		return
	}
	if err != nil {
		// Metadata is gone; only some objects or indexes are left behind.
		c.JSON(http.StatusOK, gin.H{
			"status":  "partial",
			"message": "Wardrobe cleared with cleanup errors",
			"error":   err.Error(),
			"stats":   stats,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "All images and data have been cleared successfully",
		"stats":   stats,
	})
}

// Get handles GET /api/v1/items/:id.
func (h *ItemHandler) Get(c *gin.Context) {
	item, err := h.wardrobe.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "Item not found",
		})
		return
	}
	if err != nil {
		respondError(c, "Failed to get item", err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// Status handles GET /api/v1/items/:id/status.
// An unknown id answers 200 with status "not_found" so pollers can stop.
func (h *ItemHandler) Status(c *gin.Context) {
	id := c.Param("id")
	status, err := h.pipeline.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image_id": id,
		"status":   status,
	})
}

// Process handles POST /api/v1/items/:id/process.
func (h *ItemHandler) Process(c *gin.Context) {
	job, err := h.pipeline.Reprocess(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "Item not found",
		})
		return
	}
	if err != nil {
		respondError(c, "Failed to start processing", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "processing started",
		"image_id": job.ImageID,
		"job_id":   job.ID,
	})
}
