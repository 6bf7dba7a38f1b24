package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"github.com/ceyewan/rchat/gateway/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logger 返回一个请求日志中间件
// 记录请求方法、路径、状态码、耗时、客户端 IP 等
// 同时负责 trace_id 的注入和 HTTP 指标的记录
func Logger(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 处理 trace_id：优先使用请求头，其次是 OTEL Span
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = GetTraceID(c.Request.Context())
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		ctx := context.WithValue(c.Request.Context(), traceIDCtxKey{}, traceID)
		c.Request = c.Request.WithContext(ctx)

		// 2. 生成请求 ID
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []metrics.Label{
			metrics.L("method", c.Request.Method),
			metrics.L("route", route),
			metrics.L("status", strconv.Itoa(status)),
		}
		observability.RecordHTTPRequest(ctx, labels...)
		observability.RecordHTTPRequestDuration(ctx, latency, labels...)
		if status >= 400 {
			observability.RecordHTTPError(ctx, labels...)
		}

		fields := []clog.Field{
			clog.String("request_id", requestID),
			clog.String("trace_id", traceID),
			clog.String("method", c.Request.Method),
			clog.String("path", path),
			clog.String("query", query),
			clog.Int("status", status),
			clog.String("client_ip", c.ClientIP()),
			clog.String("user_agent", c.Request.UserAgent()),
			clog.Duration("latency", latency),
		}

		if username, ok := GetUsername(c); ok {
			fields = append(fields, clog.String("username", username))
		}

		// 根据状态码选择日志级别
		switch {
		case status >= 500:
			logger.ErrorContext(ctx, "server error", fields...)
		case status >= 400:
			logger.WarnContext(ctx, "client error", fields...)
		default:
			logger.InfoContext(ctx, "request", fields...)
		}
	}
}

// SkipLogger 返回一个可以跳过某些路径的日志中间件
func SkipLogger(logger clog.Logger, skipPaths map[string]struct{}) gin.HandlerFunc {
	next := Logger(logger)
	return func(c *gin.Context) {
		if _, ok := skipPaths[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		next(c)
	}
}

// SlowQueryDetector 慢查询检测中间件
// 当请求超过指定阈值时，记录警告日志
func SlowQueryDetector(logger clog.Logger, threshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		if latency > threshold {
			logger.Warn("slow request detected",
				clog.String("path", c.Request.URL.Path),
				clog.String("method", c.Request.Method),
				clog.Duration("latency", latency),
				clog.Int("status", c.Writer.Status()),
			)
		}
	}
}
