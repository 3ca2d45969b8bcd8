package api

import (
	"errors"
	"net/http"

	"repair-shop-service/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func success(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{
		"status": "success",
		"data":   data,
	})
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{
		"status":  "fail",
		"message": message,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "fail",
		"message": "invalid request body",
		"details": err.Error(),
	})
}

// respondError maps service failures to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		notFoundErr *apperr.NotFoundError
		stockErr    *apperr.InsufficientStockError
		conflictErr *apperr.ConcurrencyConflictError
		authErr     *apperr.AuthorizationError
		validErr    *apperr.ValidationError
	)

	switch {
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"status": "fail", "message": notFoundErr.Error()})
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": validErr.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":    "fail",
			"message":   stockErr.Error(),
			"part_id":   stockErr.PartID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
			"shortfall": stockErr.Shortfall(),
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"status":    "fail",
			"message":   "the resource is busy, retry the request",
			"retryable": true,
		})
	case errors.As(err, &authErr):
		c.JSON(http.StatusForbidden, gin.H{"status": "fail", "message": authErr.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "something went wrong",
		})
	}
}
