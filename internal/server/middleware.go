package server

import (
	"time"

	"github.com/fieldline/fieldline/internal/tenantctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TenantContextMiddleware lifts the X-Tenant-ID header into the request
// context so handlers and services can resolve the caller without re-parsing.
func TenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-Tenant-ID"); raw != "" {
			if tenantID, ok := parseSnowflake(raw); ok {
				ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}

// RequestLogMiddleware logs one structured line per request. Billing-critical
// failures surface through the error middleware; this is plain access logging.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	accessLog := log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			accessLog.Error("request failed", fields...)
		case c.Writer.Status() >= 400:
			accessLog.Warn("request rejected", fields...)
		default:
			accessLog.Info("request", fields...)
		}
	}
}
