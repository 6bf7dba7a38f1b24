// Package observability 提供 rchat 服务的可观测性支持
// 包括 Trace（分布式追踪）和 Metrics（指标收集）
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"github.com/ceyewan/rchat/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

const (
	// ServiceName 服务名称
	ServiceName = "rchat"

	// TracerName Tracer 名称
	TracerName = "rchat-gateway"
)

var (
	// 全局组件
	meter     metrics.Meter
	traceOnce sync.Once
	shutdown  func(context.Context) error

	// 业务指标 - WebSocket
	websocketConnectionsActive metrics.Gauge
	websocketConnectionsTotal  metrics.Counter

	// 业务指标 - 事件总线
	eventsPublishedTotal metrics.Counter
	eventsDroppedTotal   metrics.Counter

	// 业务指标 - 消息与审核
	messagesSentTotal metrics.Counter
	bansTotal         metrics.Counter

	// 业务指标 - HTTP
	httpRequestsTotal   metrics.Counter
	httpRequestDuration metrics.Histogram
	httpErrorsTotal     metrics.Counter
)

// Init 初始化可观测性组件
func Init(cfg *Config) error {
	var initErr error

	traceOnce.Do(func() {
		// 1. 初始化 Trace
		shutdownFunc, err := initTrace(cfg)
		if err != nil {
			initErr = fmt.Errorf("init trace: %w", err)
			return
		}
		shutdown = shutdownFunc

		// 2. 初始化 Metrics
		meter, err = initMetrics(cfg)
		if err != nil {
			initErr = fmt.Errorf("init metrics: %w", err)
			return
		}

		// 3. 初始化业务指标
		initBusinessMetrics()
	})

	return initErr
}

// Shutdown 优雅关闭
func Shutdown(ctx context.Context) error {
	var firstErr error
	if shutdown != nil {
		firstErr = shutdown(ctx)
	}
	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// initTrace 初始化 Trace
func initTrace(cfg *Config) (func(context.Context) error, error) {
	if cfg.Trace.Disable {
		// 禁用 Trace，只生成 TraceID 不上报
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		return tp.Shutdown, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Trace.GetEndpoint()),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Trace.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Trace.GetSampler()))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// initMetrics 初始化 Metrics
func initMetrics(cfg *Config) (metrics.Meter, error) {
	return metrics.New(&metrics.Config{
		ServiceName:   ServiceName,
		Port:          cfg.Metrics.GetPort(),
		Path:          cfg.Metrics.GetPath(),
		EnableRuntime: cfg.Metrics.EnableRuntime,
	})
}

// initBusinessMetrics 初始化业务指标
func initBusinessMetrics() {
	websocketConnectionsActive, _ = meter.Gauge(
		"rchat_websocket_connections_active",
		"Current number of active WebSocket connections",
	)
	websocketConnectionsTotal, _ = meter.Counter(
		"rchat_websocket_connections_total",
		"Total number of WebSocket connections established",
	)

	eventsPublishedTotal, _ = meter.Counter(
		"rchat_events_published_total",
		"Total number of events published to the bus",
	)
	// 慢订阅者队列溢出
	eventsDroppedTotal, _ = meter.Counter(
		"rchat_events_dropped_total",
		"Total number of events dropped for slow subscribers",
	)

	messagesSentTotal, _ = meter.Counter(
		"rchat_messages_sent_total",
		"Total number of chat messages broadcast",
	)
	bansTotal, _ = meter.Counter(
		"rchat_bans_total",
		"Total number of site and community bans",
	)

	httpRequestsTotal, _ = meter.Counter(
		"rchat_http_requests_total",
		"Total number of HTTP requests",
	)
	httpRequestDuration, _ = meter.Histogram(
		"rchat_http_request_duration_seconds",
		"HTTP request latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}),
	)
	httpErrorsTotal, _ = meter.Counter(
		"rchat_http_errors_total",
		"Total number of HTTP errors",
	)
}

// ============================================================================
// Trace 辅助函数
// ============================================================================

// StartSpan 开始一个新的 Span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func() {
		span.End()
	}
}

// ============================================================================
// Metrics 记录函数 - 连接与事件
// ============================================================================

// Recorder 将连接管理器与事件总线的统计写入全局指标
type Recorder struct {
	active atomic.Int64
}

// NewRecorder 创建指标记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// EventPublished 记录一次事件发布
func (r *Recorder) EventPublished(kind event.Kind) {
	ctx := context.Background()
	if eventsPublishedTotal != nil {
		eventsPublishedTotal.Inc(ctx, metrics.L("kind", string(kind)))
	}
	switch kind {
	case event.KindNewMessage:
		RecordMessageSent(ctx, metrics.L("target", "channel"))
	case event.KindNewConversationMessage:
		RecordMessageSent(ctx, metrics.L("target", "conversation"))
	case event.KindIdentityBanned:
		RecordBan(ctx, metrics.L("scope", "site"))
	case event.KindServerMemberBanned:
		RecordBan(ctx, metrics.L("scope", "community"))
	}
}

// EventDropped 记录被丢弃的事件数
func (r *Recorder) EventDropped(count int) {
	if eventsDroppedTotal == nil {
		return
	}
	ctx := context.Background()
	for i := 0; i < count; i++ {
		eventsDroppedTotal.Inc(ctx)
	}
}

// ConnectionOpened 记录新建连接
func (r *Recorder) ConnectionOpened() {
	ctx := context.Background()
	n := r.active.Add(1)
	if websocketConnectionsTotal != nil {
		websocketConnectionsTotal.Inc(ctx)
	}
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(ctx, float64(n))
	}
}

// ConnectionClosed 记录连接关闭
func (r *Recorder) ConnectionClosed() {
	n := r.active.Add(-1)
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(context.Background(), float64(n))
	}
}

// Active 当前活跃连接数
func (r *Recorder) Active() int64 {
	return r.active.Load()
}

// RecordMessageSent 记录广播的聊天消息
func RecordMessageSent(ctx context.Context, labels ...metrics.Label) {
	if messagesSentTotal != nil {
		messagesSentTotal.Inc(ctx, labels...)
	}
}

// RecordBan 记录封禁
func RecordBan(ctx context.Context, labels ...metrics.Label) {
	if bansTotal != nil {
		bansTotal.Inc(ctx, labels...)
	}
}

// ============================================================================
// Metrics 记录函数 - HTTP
// ============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(ctx context.Context, labels ...metrics.Label) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.Inc(ctx, labels...)
	}
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, labels ...metrics.Label) {
	if httpRequestDuration != nil {
		httpRequestDuration.Record(ctx, duration.Seconds(), labels...)
	}
}

// RecordHTTPError 记录 HTTP 错误
func RecordHTTPError(ctx context.Context, labels ...metrics.Label) {
	if httpErrorsTotal != nil {
		httpErrorsTotal.Inc(ctx, labels...)
	}
}

// ============================================================================
// Logger 创建辅助函数
// ============================================================================

// NewLogger 创建带有 Trace Context 的 Logger
func NewLogger(cfg *clog.Config) (clog.Logger, error) {
	return clog.New(cfg, clog.WithTraceContext())
}
