package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics serves the default registry in the exposition format.
func PrometheusMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
