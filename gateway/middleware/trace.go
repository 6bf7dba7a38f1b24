package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDKey gin 上下文中 trace_id 的键
	TraceIDKey = "trace_id"
	// TraceIDHeader HTTP header 中 trace_id 的键
	TraceIDHeader = "X-Trace-ID"

	tracerName = "rchat-http"
)

type traceIDCtxKey struct{}

// Trace 为每个请求创建 Server Span，并从请求头中提取上游的 Trace Context
func Trace() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		spanName := c.FullPath()
		if spanName == "" {
			spanName = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", spanName),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// GetTraceID 从 Context 中获取 TraceID
// 优先使用已注入的 trace_id，其次是 OTEL Span 的 TraceID；都没有时返回空串
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDCtxKey{}).(string); ok && traceID != "" {
		return traceID
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
