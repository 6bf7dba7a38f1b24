package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc 依赖检查，返回 nil 表示依赖可用
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Probe 维护健康检查状态，可挂载到任意 HTTP 路由。
type Probe struct {
	ready    atomic.Bool
	shutdown atomic.Bool

	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
}

// NewProbe 创建健康探针状态。
func NewProbe() *Probe {
	return &Probe{timeout: 2 * time.Second}
}

// SetReady 设置服务就绪状态。
func (p *Probe) SetReady(ready bool) {
	p.ready.Store(ready)
}

// SetShutdown 设置服务关闭状态。
func (p *Probe) SetShutdown(shutdown bool) {
	p.shutdown.Store(shutdown)
}

// AddCheck 注册就绪检查，任一检查失败时 /ready 返回 503。
func (p *Probe) AddCheck(name string, fn CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, namedCheck{name: name, fn: fn})
}

// Ready 返回是否就绪；未就绪时给出失败原因。
func (p *Probe) Ready(ctx context.Context) (bool, string) {
	if p.shutdown.Load() {
		return false, "shutting_down"
	}
	if !p.ready.Load() {
		return false, "not_ready"
	}

	p.mu.RLock()
	checks := append([]namedCheck(nil), p.checks...)
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			return false, c.name
		}
	}
	return true, ""
}

// LivenessHandler 返回 liveness handler（/health）。
func (p *Probe) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}
}

// ReadinessHandler 返回 readiness handler（/ready）。
func (p *Probe) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if ok, reason := p.Ready(r.Context()); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready","reason":"` + reason + `"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
