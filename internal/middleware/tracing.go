package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware joins the W3C trace context sent by the client, so a
// submit or poll span on the client side parents the emulator's span.
func TracingMiddleware(service string) gin.HandlerFunc {
	if service == "" {
		service = "docintel-emulator"
	}
	tracer := otel.Tracer(service + "/http")
	prop := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		parent := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, c.Request.Method+" "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("docintel.api_version", c.Query("api-version")),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName(c.Request.Method + " " + route)
		}
		if model := c.Param("model"); model != "" {
			span.SetAttributes(attribute.String("docintel.model_id", model))
		}
		if id := c.Param("id"); id != "" {
			span.SetAttributes(attribute.String("docintel.result_id", id))
		}
		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.String("docintel.error_code", c.Writer.Header().Get("x-ms-error-code")),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
