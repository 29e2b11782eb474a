package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingOptions customises the tracing middleware.
type TracingOptions struct {
	ServiceName    string
	TracerProvider trace.TracerProvider
}

// Tracing starts a server span per request using the global propagator and
// tags it with the request and trace identifiers assigned upstream.
func Tracing(opts TracingOptions) gin.HandlerFunc {
	options := []otelgin.Option{otelgin.WithPropagators(otel.GetTextMapPropagator())}
	if opts.TracerProvider != nil {
		options = append(options, otelgin.WithTracerProvider(opts.TracerProvider))
	}
	return otelgin.Middleware(opts.ServiceName, options...)
}

// AnnotateSpan copies correlation ids onto the active span. It must run after
// Tracing, RequestID and EnrichContext.
func AnnotateSpan() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("request.id", GetRequestID(c)),
				attribute.String("request.trace_id", GetTraceID(c)),
			)
		}
		c.Next()
		if userID, ok := GetAuthenticatedUserID(c); ok && span.IsRecording() {
			span.SetAttributes(attribute.String("enduser.id", userID))
		}
	}
}
