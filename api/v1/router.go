package v1

import (
	agentsapi "c2core/api/v1/agents"
	authapi "c2core/api/v1/auth"
	caapi "c2core/api/v1/ca"
	"c2core/api/v1/middleware"
	tasksapi "c2core/api/v1/tasks"
	"c2core/internal/blacklist"
	"c2core/internal/ca"
	"c2core/internal/config"
	"c2core/internal/dispatch"
	"c2core/internal/httpx"
	"c2core/internal/taskqueue"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the wired engines the routes depend on.
type Deps struct {
	DB     *gorm.DB
	Config *config.Config
	CA     *ca.Engine
	Bl     *blacklist.Service
	Queue  *taskqueue.Service
	Facade *dispatch.Facade
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, d Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		caHandler := caapi.NewHandler(d.CA)
		v1.GET("/ca/cert", caHandler.RootCert)
		v1.GET("/ca/crl", caHandler.CRL)

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authapi.LoginHandler(d.DB, d.Config, d.CA))
		}

		// Agent-facing routes: authenticated by session token carried
		// in the request body flows, enforced by the revocation checks
		// inside the dispatch façade
		agentsHandler := agentsapi.NewHandler(d.DB, d.Facade, d.Bl, d.Queue, d.CA, d.Config)
		agentGroup := v1.Group("/agents")
		{
			agentGroup.POST("/register", agentsHandler.Register)
			agentGroup.POST("/beacon", agentsHandler.Beacon)
			agentGroup.POST("/results", agentsHandler.Result)
			agentGroup.GET("/wait", agentsHandler.Wait)
		}

		// Protected operator routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(d.Bl))
		{
			protected.GET("/me", meHandler)
			protected.POST("/auth/logout", authapi.LogoutHandler(d.Bl))

			protected.GET("/agents", agentsHandler.List)
			protected.POST("/agents/blacklist", agentsHandler.Blacklist)
			protected.GET("/agents/blacklist", agentsHandler.BlacklistList)
			protected.POST("/agents/blacklist/remove", agentsHandler.Unblacklist)
			protected.GET("/agents/blacklist/info", agentsHandler.BlacklistInfo)
			protected.POST("/agents/fingerprint/revoke", agentsHandler.RevokeFingerprint)

			tasksHandler := tasksapi.NewHandler(d.DB, d.Queue)
			taskGroup := protected.Group("/tasks")
			{
				taskGroup.POST("/create", tasksHandler.Create)
				taskGroup.POST("/cancel", tasksHandler.Cancel)
				taskGroup.GET("/pending", tasksHandler.Pending)
				taskGroup.GET("/processing", tasksHandler.Processing)
				taskGroup.GET("/stats", tasksHandler.Stats)
				taskGroup.POST("/broadcast", tasksHandler.Broadcast)
				taskGroup.POST("/queue/clear", tasksHandler.ClearQueue)
			}

			protected.GET("/ca/certs", caHandler.List)
			protected.POST("/ca/revoke", caHandler.Revoke)
			protected.GET("/ca/check", caHandler.Check)
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
		"role":     role,
	})
}
