package observability

// Config 可观测性配置
type Config struct {
	Trace   TraceConfig   `mapstructure:"trace"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TraceConfig 链路追踪配置
type TraceConfig struct {
	Disable  bool    `mapstructure:"disable"`  // 只生成 TraceID，不上报
	Endpoint string  `mapstructure:"endpoint"` // OTLP gRPC 端点
	Insecure bool    `mapstructure:"insecure"`
	Sampler  float64 `mapstructure:"sampler"` // 采样率（0-1）
}

// GetEndpoint 默认 localhost:4317
func (c *TraceConfig) GetEndpoint() string {
	if c.Endpoint == "" {
		return "localhost:4317"
	}
	return c.Endpoint
}

// GetSampler 未配置或越界时全采样
func (c *TraceConfig) GetSampler() float64 {
	if c.Sampler <= 0 || c.Sampler > 1 {
		return 1.0
	}
	return c.Sampler
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Port          int    `mapstructure:"port"`
	Path          string `mapstructure:"path"`
	EnableRuntime bool   `mapstructure:"enable_runtime"` // 采集 Go 运行时指标
}

// GetPort 默认 9092
func (c *MetricsConfig) GetPort() int {
	if c.Port <= 0 {
		return 9092
	}
	return c.Port
}

// GetPath 默认 /metrics
func (c *MetricsConfig) GetPath() string {
	if c.Path == "" {
		return "/metrics"
	}
	return c.Path
}
