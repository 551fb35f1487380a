package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const boardRoleKey = "board_role"

// BoardRoleMiddleware resolves the caller's role on the board named by the
// :id route parameter and rejects callers whose role is not listed. With
// no roles, any member passes.
func BoardRoleMiddleware(guard services.BoardAccessGuard, roles ...models.BoardRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		boardID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || boardID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid board id"})
			return
		}

		role, err := guard.Role(c.Request.Context(), UserID(c), uint(boardID))
		switch {
		case errors.Is(err, services.ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		case errors.Is(err, services.ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of this board"})
			return
		case err != nil:
			log.WithError(err).WithField("board_id", boardID).Error("board role lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if len(roles) > 0 && !hasRole(role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":          "insufficient role",
				"required_roles": roles,
				"board_role":     role,
			})
			return
		}

		c.Set(boardRoleKey, role)
		c.Next()
	}
}

func hasRole(role models.BoardRole, allowed []models.BoardRole) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// BoardRole returns the role stored by BoardRoleMiddleware.
func BoardRole(c *gin.Context) models.BoardRole {
	role, _ := c.Get(boardRoleKey)
	r, _ := role.(models.BoardRole)
	return r
}
