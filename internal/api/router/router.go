package router

import (
	"net/http"

	"github.com/cuongbtq/fractal-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": deps.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	})

	fractalHandler := handler.NewFractalHandler(deps)

	v1 := r.Group("/v1")
	{
		fractals := v1.Group("/fractal")
		{
			fractals.POST("", fractalHandler.CreateFractal)
			fractals.GET("", fractalHandler.ListFractals)
			fractals.GET("/:id", fractalHandler.GetFractal)
			fractals.GET("/:id/image", fractalHandler.GetFractalImage)
			fractals.PUT("/:id", fractalHandler.UpdateFractal)
			fractals.DELETE("/:id", fractalHandler.DeleteFractal)
		}
	}

	return r
}
