// internal/app/router.go
package app

import (
	adminHandler "audiotricks-service/internal/handlers/admin"
	authHandler "audiotricks-service/internal/handlers/auth"
	jobHandler "audiotricks-service/internal/handlers/job"
	paymentHandler "audiotricks-service/internal/handlers/payment"
	planHandler "audiotricks-service/internal/handlers/plan"
	uploadHandler "audiotricks-service/internal/handlers/upload"
	wsHandler "audiotricks-service/internal/handlers/websocket"
	workspaceHandler "audiotricks-service/internal/handlers/workspace"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	AuthHandler      *authHandler.AuthHandler
	WorkspaceHandler *workspaceHandler.WorkspaceHandler
	UploadHandler    *uploadHandler.UploadHandler
	JobHandler       *jobHandler.JobHandler
	PaymentHandler   *paymentHandler.PaymentHandler
	PlanHandler      *planHandler.PlanHandler
	AdminHandler     *adminHandler.AdminHandler
	WSHandler        *wsHandler.WebSocketHandler
	AuthMiddleware   *middleware.AuthMiddleware
	Metrics          *metrics.Registry
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics ====================
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics.Gatherer(), promhttp.HandlerOpts{})))
	}

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/register", h.AuthHandler.Register)
		authPublic.POST("/login", h.AuthHandler.Login)
	}

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.GET("/me", h.AuthHandler.GetMe)
	}

	// ==================== Workspaces ====================
	workspaces := api.Group("/workspaces")
	workspaces.Use(h.AuthMiddleware.Auth())
	{
		workspaces.POST("", h.WorkspaceHandler.CreateWorkspace)
		workspaces.GET("", h.WorkspaceHandler.ListWorkspaces)
		workspaces.GET("/:id", h.WorkspaceHandler.GetWorkspace)
		workspaces.PUT("/:id", h.WorkspaceHandler.UpdateWorkspace)

		workspaces.GET("/:id/plan", h.WorkspaceHandler.EffectivePlan)
		workspaces.GET("/:id/usage", h.WorkspaceHandler.Usage)

		// Members
		workspaces.GET("/:id/users", h.WorkspaceHandler.ListMembers)
		workspaces.PUT("/:id/users/:user_id/role", h.WorkspaceHandler.ChangeRole)
		workspaces.DELETE("/:id/users/:user_id", h.WorkspaceHandler.RemoveMember)
		workspaces.PUT("/:id/users/:user_id/plan", h.WorkspaceHandler.AssignMemberPlan)
		workspaces.DELETE("/:id/users/:user_id/plan", h.WorkspaceHandler.ClearMemberPlan)

		// Invitations
		workspaces.POST("/:id/invitations", h.WorkspaceHandler.Invite)
		workspaces.GET("/:id/invitations", h.WorkspaceHandler.ListInvitations)
		workspaces.DELETE("/:id/invitations/:invitation_id", h.WorkspaceHandler.RevokeInvitation)
	}

	invitations := api.Group("/invitations")
	invitations.Use(h.AuthMiddleware.Auth())
	{
		invitations.POST("/:token/accept", h.WorkspaceHandler.AcceptInvitation)
	}

	// ==================== Uploads ====================
	uploads := api.Group("/upload")
	uploads.Use(h.AuthMiddleware.Auth())
	{
		uploads.POST("/single", h.UploadHandler.Single)
		uploads.POST("/initialize", h.UploadHandler.Initialize)
		uploads.PUT("/:id/chunk", h.UploadHandler.PutChunk)
		uploads.POST("/:id/complete", h.UploadHandler.Complete)
		uploads.DELETE("/:id", h.UploadHandler.Abort)
		uploads.GET("/:id", h.UploadHandler.Get)
	}

	// ==================== Jobs ====================
	jobs := api.Group("/jobs")
	jobs.Use(h.AuthMiddleware.Auth())
	{
		jobs.POST("", h.JobHandler.CreateJob)
		jobs.GET("", h.JobHandler.ListJobs)
		jobs.GET("/:id", h.JobHandler.GetJob)
		jobs.POST("/:id/cancel", h.JobHandler.CancelJob)
		jobs.POST("/:id/retry", h.JobHandler.RetryJob)
		jobs.DELETE("/:id", h.JobHandler.DeleteJob)
		jobs.POST("/:id/speech", h.JobHandler.Speech)
	}

	// ==================== Payments ====================
	payment := api.Group("/payment")
	{
		// Public
		payment.GET("/plans", h.PaymentHandler.ListPlans)
		payment.GET("/currencies", h.PaymentHandler.ListCurrencies)
		payment.POST("/webhook", h.PaymentHandler.Webhook)

		paymentAuth := payment.Group("")
		paymentAuth.Use(h.AuthMiddleware.Auth())
		{
			paymentAuth.GET("/workspaces/:id/subscription", h.PaymentHandler.GetSubscription)
			paymentAuth.POST("/workspaces/:id/subscription", h.PaymentHandler.StartCheckout)
			paymentAuth.DELETE("/workspaces/:id/subscription", h.PaymentHandler.CancelSubscription)
			paymentAuth.POST("/setup-intent", h.PaymentHandler.CreateSetupIntent)
		}
	}

	// ==================== ADMIN ROUTES ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/users", h.AdminHandler.ListUsers)
		admin.PUT("/users/:id/plan", h.AdminHandler.AssignUserPlan)

		admin.GET("/plans", h.PlanHandler.ListPlans)
		admin.GET("/plans/:id", h.PlanHandler.GetPlan)
		admin.POST("/plans", h.PlanHandler.CreatePlan)
		admin.POST("/plans/:id/versions", h.PlanHandler.NewVersion)
		admin.POST("/plans/:id/deactivate", h.PlanHandler.Deactivate)

		admin.GET("/rules", h.PlanHandler.ListRules)
		admin.POST("/rules", h.PlanHandler.CreateRule)
		admin.PUT("/rules/:id", h.PlanHandler.UpdateRule)

		admin.PUT("/currencies/:code", h.PaymentHandler.UpdateCurrencyRate)

		admin.GET("/usage/export", h.AdminHandler.ExportUsage)
		admin.GET("/audit-logs", h.AdminHandler.ListAuditLogs)
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}
}
