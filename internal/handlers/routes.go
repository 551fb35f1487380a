package handlers

import (
	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/realtime"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
)

type RouteConfig struct {
	Auth        services.AuthService
	Boards      services.BoardService
	Lists       services.ListService
	Tasks       services.TaskService
	Comments    services.CommentService
	Invitations services.InvitationService
	Guard       services.BoardAccessGuard

	Authz middleware.AuthzConfig
	// JoinTokens is nil when any connection may join any room.
	JoinTokens  *realtime.JoinTokens
	Hub         *realtime.Hub
	RateLimiter *middleware.RateLimiter
}

// RegisterRoutes mounts the REST API under /api and the socket endpoint
// at /ws.
func RegisterRoutes(router *gin.Engine, cfg RouteConfig) {
	authHandler := NewAuthHandler(cfg.Auth)
	boardHandler := NewBoardHandler(cfg.Boards, cfg.JoinTokens)
	listHandler := NewListHandler(cfg.Lists)
	taskHandler := NewTaskHandler(cfg.Tasks)
	commentHandler := NewCommentHandler(cfg.Comments)
	invitationHandler := NewInvitationHandler(cfg.Invitations)

	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware()
	}

	api := router.Group("/api")
	api.POST("/auth/register", limit, authHandler.Register)
	api.POST("/auth/token", limit, authHandler.Token)

	// Limited after identity so callers are keyed by user id.
	protected := api.Group("")
	protected.Use(middleware.AuthzMiddleware(cfg.Authz), limit)

	protected.POST("/boards", boardHandler.CreateBoard)
	protected.GET("/boards", boardHandler.ListBoards)
	protected.GET("/boards/:id", boardHandler.GetBoard)
	protected.PUT("/boards/:id", boardHandler.UpdateBoard)
	protected.DELETE("/boards/:id", boardHandler.DeleteBoard)
	protected.GET("/boards/:id/members", boardHandler.ListMembers)

	managers := middleware.BoardRoleMiddleware(cfg.Guard, models.RoleOwner, models.RoleAdmin)
	protected.POST("/boards/:id/invitations", managers, invitationHandler.CreateInvitation)
	protected.GET("/boards/:id/invitations", managers, invitationHandler.ListInvitations)
	protected.DELETE("/invitations/:id", invitationHandler.RevokeInvitation)
	protected.POST("/invitations/:token/accept", invitationHandler.AcceptInvitation)

	protected.POST("/lists", listHandler.CreateList)
	protected.PUT("/lists/:id", listHandler.UpdateList)
	protected.DELETE("/lists/:id", listHandler.DeleteList)

	protected.POST("/tasks", taskHandler.CreateTask)
	protected.PUT("/tasks/batch", taskHandler.UpdateTasksBatch)
	protected.GET("/tasks/:id", taskHandler.GetTaskByID)
	protected.PUT("/tasks/:id", taskHandler.UpdateTask)
	protected.DELETE("/tasks/:id", taskHandler.DeleteTask)

	protected.POST("/comments", commentHandler.CreateComment)
	protected.PUT("/comments/:id", commentHandler.UpdateComment)
	protected.DELETE("/comments/:id", commentHandler.DeleteComment)

	if cfg.Hub != nil {
		router.GET("/ws", gin.WrapF(cfg.Hub.ServeWS))
	}
}
