// Package api assembles the HTTP surface of the hub.
package api

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/api/handlers"
	"github.com/phonehub/phonehub/pkg/auth"
	"github.com/phonehub/phonehub/pkg/env"
	"github.com/phonehub/phonehub/pkg/middleware"
	"github.com/phonehub/phonehub/pkg/otel"
)

// NewRouter registers every route. redisClient may be nil.
func NewRouter(cfg *env.Config, h *handlers.Handler, redisClient redis.Cmdable, logger *zap.Logger) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20)) // 1 MB limit

	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware("/health", "/metrics"))
	}
	router.Use(middleware.RequestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "*" || cfg.CORSAllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", handlers.PrometheusMetrics())

	// Provider webhooks (public, signature verified)
	twilio := router.Group("/twilio")
	twilio.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL, cfg.TwilioValidateSignature, logger))
	{
		twilio.POST("/voice", h.VoiceWebhook)
		twilio.POST("/voice/turn", h.TurnWebhook)
		twilio.POST("/voice/status", h.StatusWebhook)
		twilio.POST("/dial", h.DialWebhook)
	}

	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.APIRateLimitRPM, logger)

	// Operator API (protected)
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
	api.Use(middleware.IdempotencyMiddleware(redisClient))
	api.Use(rateLimiter.Middleware())
	{
		calls := api.Group("/calls")
		calls.Use(middleware.RoleMiddleware(auth.RoleOperator, auth.RoleAdmin))
		{
			calls.POST("", h.CreateCall)
			calls.POST("/prepare", h.PrepareCall)
			calls.GET("/:call_sid", middleware.ValidateCallSIDParam("call_sid"), h.GetCall)
		}

		personas := api.Group("/personas")
		{
			personas.GET("", h.ListPersonas)
			personas.GET("/:id", h.GetPersona)
		}
	}

	return router
}
