package handlers

import (
	"net/http"

	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
)

type InvitationHandler struct {
	invitations services.InvitationService
}

func NewInvitationHandler(invitations services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	invitation, err := h.invitations.CreateInvitation(c.Request.Context(), middleware.UserID(c), boardID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invitation": invitation})
}

func (h *InvitationHandler) ListInvitations(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	invitations, err := h.invitations.ListInvitations(c.Request.Context(), middleware.UserID(c), boardID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

func (h *InvitationHandler) RevokeInvitation(c *gin.Context) {
	invitationID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.invitations.RevokeInvitation(c.Request.Context(), middleware.UserID(c), invitationID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	membership, err := h.invitations.AcceptInvitation(c.Request.Context(), middleware.UserID(c), c.Param("token"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": membership})
}
