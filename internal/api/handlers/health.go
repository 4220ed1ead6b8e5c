package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
)

type HealthResponse struct {
	Status    string                          `json:"status"`
	Timestamp string                          `json:"timestamp"`
	Services  map[string]string               `json:"services"`
	Breakers  map[string]circuitbreaker.Stats `json:"breakers,omitempty"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":       "healthy",
		"database":  "disabled",
		"redis":     "disabled",
		"telephony": "unconfigured",
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	if h.mongo != nil {
		if err := h.mongo.Ping(ctx); err != nil {
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
	}

	breakers := map[string]circuitbreaker.Stats{}
	if h.telephony != nil && h.telephony.Configured() {
		services["telephony"] = "configured"
		breakers["telephony"] = h.telephony.Stats()
	}

	if h.webhooks != nil {
		breakers["summary_webhook"] = h.webhooks.Stats()
	}

	services["ai_provider"] = "unavailable"
	if h.aiManager != nil {
		if provider := h.aiManager.GetAvailableProvider(); provider != nil {
			services["ai_provider"] = provider.Name()
		}
		for name, stats := range h.aiManager.BreakerStats() {
			breakers["ai."+name] = stats
		}
	}

	// Calls still get the fallback line without a provider, so that only degrades.
	overallStatus := "healthy"
	for _, status := range services {
		if status == "unhealthy" || status == "unavailable" {
			overallStatus = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  services,
		Breakers:  breakers,
	})
}
