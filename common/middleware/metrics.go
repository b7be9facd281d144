package middleware

import (
	"context"
	"strconv"
	"time"

	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"

	"github.com/gin-gonic/gin"
)

const metricsTimeout = 5 * time.Second

// MetricsMiddleware publishes request count, latency and errors per route in one batch.
// Unmatched routes and the health check are not recorded.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" || route == "/health" {
			return
		}
		status := c.Writer.Status()
		dimensions := map[string]string{
			"Service": serviceName,
			"Route":   c.Request.Method + " " + route,
			"Status":  statusClass(status),
		}
		data := []awspkg.Datum{
			awspkg.Count(awspkg.MetricHTTPRequests),
			awspkg.Latency(awspkg.MetricHTTPLatency, time.Since(start)),
		}
		if status >= 400 {
			data = append(data, awspkg.Count(awspkg.MetricHTTPErrors))
		}

		// off the response path
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
			defer cancel()
			_ = metricsClient.PutMetrics(ctx, dimensions, data...)
		}()
	}
}

// statusClass reduces a status code to its class, e.g. 503 -> "5xx".
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
