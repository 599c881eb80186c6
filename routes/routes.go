package routes

import (
	"owngame/handlers"
	"owngame/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	updateHandler *handlers.UpdateHandler,
	gameHandler *handlers.GameHandler,
	jwtSecret []byte,
	apiKeyHash string,
) {
	router.GET("/health", gameHandler.Health)

	api := router.Group("/api")
	{
		// Adapter ingress
		updates := api.Group("/updates")
		updates.Use(middleware.AdapterAuth(jwtSecret, apiKeyHash))
		{
			updates.POST("", updateHandler.Receive)
			updates.POST("/raw", updateHandler.ReceiveRaw)
		}

		// Public read side
		games := api.Group("/games")
		{
			games.GET("", gameHandler.ListGames)
			games.GET("/:origin/:chat", gameHandler.GetGame)
		}
	}

	router.GET("/ws/games/:origin/:chat", gameHandler.Watch)
}
