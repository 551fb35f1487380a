package handlers

import (
	"net/http"

	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
)

type ListHandler struct {
	lists services.ListService
}

func NewListHandler(lists services.ListService) *ListHandler {
	return &ListHandler{lists: lists}
}

func (h *ListHandler) CreateList(c *gin.Context) {
	var req services.CreateListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	list, err := h.lists.CreateList(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"list": list})
}

func (h *ListHandler) UpdateList(c *gin.Context) {
	listID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	list, err := h.lists.UpdateList(c.Request.Context(), middleware.UserID(c), listID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *ListHandler) DeleteList(c *gin.Context) {
	listID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.lists.DeleteList(c.Request.Context(), middleware.UserID(c), listID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
