package handlers

import (
	"net/http"

	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type BoardHandler struct {
	boards     services.BoardService
	joinTokens *realtime.JoinTokens
}

// NewBoardHandler builds the board endpoints. joinTokens may be nil when
// socket joins are open.
func NewBoardHandler(boards services.BoardService, joinTokens *realtime.JoinTokens) *BoardHandler {
	return &BoardHandler{boards: boards, joinTokens: joinTokens}
}

func (h *BoardHandler) CreateBoard(c *gin.Context) {
	var req services.CreateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	board, err := h.boards.CreateBoard(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"board": board})
}

func (h *BoardHandler) ListBoards(c *gin.Context) {
	boards, err := h.boards.ListBoards(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

// GetBoard returns the full snapshot and, when joins are gated, a token
// for the board's socket room.
func (h *BoardHandler) GetBoard(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	snapshot, err := h.boards.GetBoard(c.Request.Context(), userID, boardID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response := *snapshot
	if h.joinTokens != nil {
		token, err := h.joinTokens.Issue(boardID, userID)
		if err != nil {
			log.WithError(err).WithField("board_id", boardID).Error("join token not issued")
		}
		response.JoinToken = token
	}
	c.JSON(http.StatusOK, response)
}

func (h *BoardHandler) UpdateBoard(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	board, err := h.boards.UpdateBoard(c.Request.Context(), middleware.UserID(c), boardID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"board": board})
}

func (h *BoardHandler) DeleteBoard(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.boards.DeleteBoard(c.Request.Context(), middleware.UserID(c), boardID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BoardHandler) ListMembers(c *gin.Context) {
	boardID, ok := paramID(c, "id")
	if !ok {
		return
	}
	members, err := h.boards.ListMembers(c.Request.Context(), middleware.UserID(c), boardID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
