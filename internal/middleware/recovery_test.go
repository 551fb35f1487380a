package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskboard/backend/internal/middleware"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoveringRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.RecoveryWithLog())
	router.GET("/boards/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"board": gin.H{"id": c.Param("id")}})
	})
	router.PUT("/tasks/batch", func(c *gin.Context) {
		panic(errors.New("nil task in batch"))
	})
	return router
}

func TestRecoveryWithLog_PassesThrough(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	req, _ := http.NewRequest(http.MethodGet, "/boards/9", nil)
	w := httptest.NewRecorder()
	recoveringRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"board":{"id":"9"}}`, w.Body.String())
	assert.Empty(t, hook.AllEntries())
}

func TestRecoveryWithLog_HidesPanicAndLogsIt(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	router := recoveringRouter()

	req, _ := http.NewRequest(http.MethodPut, "/tasks/batch", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "nil task")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "panic recovered", entry.Message)
	assert.Equal(t, http.MethodPut, entry.Data["method"])
	assert.Equal(t, "/tasks/batch", entry.Data["path"])
	assert.EqualError(t, entry.Data["panic"].(error), "nil task in batch")
	assert.NotEmpty(t, entry.Data["stack"])

	// The router keeps serving after a panic.
	req, _ = http.NewRequest(http.MethodGet, "/boards/1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
