package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// handleServiceError maps service sentinels to status codes. Anything
// else is logged and answered with a generic 500.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": detail(err, services.ErrForbidden)})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": detail(err, services.ErrNotFound)})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": detail(err, services.ErrValidation)})
	default:
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"route":   c.FullPath(),
			"user_id": middleware.UserID(c),
		}).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// detail returns the message a service attached to a sentinel, so
// "not found: list" is reported as "list not found".
func detail(err, sentinel error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, sentinel.Error()+": "); i >= 0 {
		rest := msg[i+len(sentinel.Error())+2:]
		if sentinel == services.ErrNotFound {
			return rest + " not found"
		}
		return rest
	}
	return sentinel.Error()
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": err.Error(),
	})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
