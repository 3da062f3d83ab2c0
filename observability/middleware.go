package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Middleware returns a gin middleware that wraps each request in a
// span and records its duration and status code.
func (o *Observability) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, span := o.Tracer().Start(c.Request.Context(), c.FullPath())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", status),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, "")
		}
		span.End()

		if o == nil {
			return
		}
		elapsed := time.Since(start).Seconds()
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", c.FullPath()),
			attribute.Int("status", status),
		)
		o.requestDuration.Record(ctx, elapsed, attrs)
		o.requestTotal.Add(ctx, 1, attrs)
	}
}

// MetricsHandler returns the gin handler serving Prometheus
// exposition format. The OTel prometheus exporter created in New
// registers its collector with the default prometheus registry, so
// the stock promhttp handler serves everything.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
