package routes

import (
	"context"
	"html/template"
	"net/http"

	"premiosplatzi/handlers"
	"premiosplatzi/middleware"

	"github.com/gin-gonic/gin"
)

type Dependencies struct {
	Templates    *template.Template
	PollHandler  *handlers.PollHandler
	AdminHandler *handlers.AdminHandler
	AuthHandler  *handlers.AuthHandler
	Tokens       middleware.TokenValidator
	CORSOrigins  []string
	// Ping reports storage health for /health.
	Ping func(ctx context.Context) error
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.SetHTMLTemplate(deps.Templates)
	router.Use(middleware.CORS(deps.CORSOrigins))

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/polls/")
	})

	// Public polls pages
	polls := router.Group("/polls")
	{
		polls.GET("/", deps.PollHandler.Index)
		polls.GET("/:id/", deps.PollHandler.Detail)
		polls.GET("/:id/results/", deps.PollHandler.Results)
		polls.POST("/:id/vote/", deps.PollHandler.Vote)
		polls.GET("/:id/live", deps.PollHandler.Live)
	}

	// Admin API
	admin := router.Group("/admin/api")
	{
		admin.POST("/auth/login", deps.AuthHandler.Login)

		protected := admin.Group("/")
		protected.Use(middleware.AuthMiddleware(deps.Tokens))
		{
			protected.GET("/auth/profile", deps.AuthHandler.GetProfile)
			protected.POST("/users", deps.AuthHandler.CreateAdmin)

			questions := protected.Group("/questions")
			{
				questions.GET("", deps.AdminHandler.ListQuestions)
				questions.POST("", deps.AdminHandler.CreateQuestion)
				questions.GET("/:id", deps.AdminHandler.GetQuestion)
				questions.PUT("/:id", deps.AdminHandler.UpdateQuestion)
				questions.DELETE("/:id", deps.AdminHandler.DeleteQuestion)
			}

			choices := protected.Group("/choices")
			{
				choices.GET("", deps.AdminHandler.ListChoices)
				choices.POST("", deps.AdminHandler.CreateChoice)
				choices.PUT("/:id", deps.AdminHandler.UpdateChoice)
				choices.DELETE("/:id", deps.AdminHandler.DeleteChoice)
			}
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if deps.Ping != nil {
			if err := deps.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
