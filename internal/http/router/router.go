package router

import (
	"context"
	"net/http"
	"time"

	apphttp "lead_waterfall_backend/internal/http"
	"lead_waterfall_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// New builds the gin engine with shared middleware and mounts every module.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())

	if origins := app.Config.GetCORSOrigins(); len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	globalLimiter := httpkit.NewIPRateLimiter(rate.Limit(20), 40, app.Logger)
	engine.Use(globalLimiter.RateLimit())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/ready", func(c *gin.Context) {
		if app.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Health.Ping(ctx); err != nil {
			app.Logger.Warn("readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rc := &apphttp.RouterContext{
		Engine:          engine,
		V1:              engine.Group("/api/v1"),
		Voice:           engine.Group("/voice"),
		FormRateLimiter: httpkit.NewFormRateLimiter(app.Logger),
	}
	for _, m := range app.Modules {
		m.RegisterRoutes(rc)
		app.Logger.Debug("module routes registered", "module", m.Name())
	}

	return engine
}
