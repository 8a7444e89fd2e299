package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
)

// kindStatus maps an error kind onto an HTTP status.
func kindStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindInconsistency:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// errorStatus classifies a service error by its sentinel.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInconsistency):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error(message)
	}
	c.JSON(status, gin.H{
		"status": "error",
		"error":  message + ": " + err.Error(),
	})
}
