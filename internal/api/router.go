package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/alerts"
	"github.com/adamstosho/grochain/internal/app"
	iauth "github.com/adamstosho/grochain/internal/auth"
	"github.com/adamstosho/grochain/internal/handlers"
	"github.com/adamstosho/grochain/internal/middleware"
	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/internal/realtime"
	"github.com/adamstosho/grochain/internal/services"
)

// Deps bundles the constructed services the router mounts.
type Deps struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Registry      *realtime.Registry
	Handshaker    *realtime.Handshaker
	Notifications *services.NotificationService
	Preferences   *services.PreferenceService
	Alerts        *alerts.Service
	Evaluator     *alerts.Evaluator
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	requireAuth := middleware.Auth(deps.JWT)

	// The stream route authenticates during the WebSocket handshake itself
	// so browser clients can pass the token as a query parameter.
	if deps.Handshaker != nil {
		streamHandler, err := handlers.NewStreamHandler(deps.Handshaker)
		if err != nil {
			return nil, err
		}
		r.GET("/api/stream", streamHandler.Stream)
	}

	api := r.Group("/api")
	api.Use(requireAuth)

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}
	notifications := api.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.PATCH("/:id/read", notificationHandler.MarkRead)
		notifications.PATCH("/:id/unread", notificationHandler.MarkUnread)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.DELETE("/:id", notificationHandler.Delete)
	}

	preferenceHandler, err := handlers.NewPreferenceHandler(deps.Preferences)
	if err != nil {
		return nil, err
	}
	api.GET("/preferences/notifications", preferenceHandler.Get)
	api.PUT("/preferences/notifications", preferenceHandler.Update)

	alertHandler, err := handlers.NewAlertHandler(deps.Alerts, deps.Evaluator)
	if err != nil {
		return nil, err
	}
	alertRoutes := api.Group("/alerts")
	{
		alertRoutes.POST("", alertHandler.Create)
		alertRoutes.GET("", alertHandler.List)
		alertRoutes.GET("/stats", alertHandler.Stats)
		alertRoutes.POST("/check", middleware.RequireRole(models.RoleAdmin), alertHandler.Check)
		alertRoutes.GET("/:id", alertHandler.Get)
		alertRoutes.PATCH("/:id", alertHandler.Update)
		alertRoutes.DELETE("/:id", alertHandler.Delete)
	}

	if deps.Registry != nil {
		broadcastHandler, err := handlers.NewBroadcastHandler(deps.Registry)
		if err != nil {
			return nil, err
		}
		api.POST("/broadcast/:role", middleware.RequireRole(models.RoleAdmin), broadcastHandler.Broadcast)
	}

	return r, nil
}
