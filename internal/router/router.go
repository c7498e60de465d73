package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "tablenorm/docs"
	"tablenorm/internal/handler"
	"tablenorm/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware and wraps it
// with CORS handling for allowedOrigins.
func Setup(healthH *handler.HealthHandler, runH *handler.RunHandler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	// API docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")

	runs := v1.Group("/runs")
	runs.POST("", runH.Create)
	runs.GET("", runH.List)
	runs.GET("/:id", runH.GetByID)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
	return corsHandler.Handler(r)
}
