package http

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imagelens/internal/bootstrap"
	"imagelens/internal/transport/http/handler"
	"imagelens/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(app.Logger.Named("http")))
	router.Use(cors.New(corsConfig(app.Config.Web.CORSOrigins)))

	if dir := app.Config.Web.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			router.Use(static.Serve("/", static.LocalFile(dir, true)))
		}
	}
	if app.Config.Upload.Retain {
		router.Static("/uploads", app.Store.Dir())
	}

	healthHandler := handler.NewHealthHandler(app)
	analyzeHandler := handler.NewAnalyzeHandler(
		app.Validator,
		app.Analysis,
		app.Config.App.Verbose,
		app.Logger.Named("analyze"),
	)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/analyze-image", analyzeHandler.Analyze)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", middleware.HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
