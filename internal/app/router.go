package app

import (
	"vetchat_backend/docs"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/middleware"
	"vetchat_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 공개 라우트
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
		public.POST("/auth/refresh", c.auth.Refresh)
		public.POST("/auth/logout", c.auth.Logout)
	}

	// 인증 필요 라우트
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)
		authGroup.PUT("/profile", c.auth.UpdateProfile)
		authGroup.POST("/profile/image", c.auth.UploadProfileImage)

		llm := authGroup.Group("/llm")
		{
			llm.GET("/models", c.llm.ListModels)

			llm.POST("/sessions", c.llm.CreateSession)
			llm.GET("/sessions", c.llm.ListSessions)
			llm.GET("/sessions/:id", c.llm.GetSession)
			llm.PUT("/sessions/:id", c.llm.RenameSession)
			llm.DELETE("/sessions/:id", c.llm.DeleteSession)

			llm.POST("/sessions/:id/messages", c.llm.SendMessage)
			llm.GET("/sessions/:id/messages", c.llm.GetMessages)
			llm.PUT("/sessions/:id/messages/last", c.llm.ReplaceLastMessage)
			llm.DELETE("/sessions/:id/messages/last", c.llm.DeleteLastMessage)
			llm.POST("/sessions/:id/messages/regenerate", c.llm.Regenerate)
		}
	}
}
