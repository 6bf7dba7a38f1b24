package connection

import (
	"sync"

	"github.com/ceyewan/rchat/event"
)

// DefaultQueueCapacity 每个订阅者默认的待投递事件上限
const DefaultQueueCapacity = 1000

// Recorder 连接层指标回调，nil 时不记录
type Recorder interface {
	EventPublished(kind event.Kind)
	EventDropped(count int)
	ConnectionOpened()
	ConnectionClosed()
}

type noopRecorder struct{}

func (noopRecorder) EventPublished(event.Kind) {}
func (noopRecorder) EventDropped(int)          {}
func (noopRecorder) ConnectionOpened()         {}
func (noopRecorder) ConnectionClosed()         {}

// Bus 进程内共享的广播总线，每个订阅者都会收到每一个事件
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	capacity int
	recorder Recorder
}

// NewBus 创建广播总线，capacity 为单个订阅者的队列容量
func NewBus(capacity int, recorder Recorder) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
		recorder: recorder,
	}
}

// Subscribe 注册新的订阅者
func (b *Bus) Subscribe() *Subscription {
	sub := newSubscription(b.capacity)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe 注销订阅者，重复调用无副作用
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish 投递事件给所有订阅者，从不阻塞
// 订阅者队列满时丢弃其最旧的未投递事件
func (b *Bus) Publish(ev event.Event) {
	if ev == nil {
		return
	}
	b.recorder.EventPublished(ev.Kind())

	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for sub := range b.subs {
		if sub.push(ev) {
			dropped++
		}
	}
	if dropped > 0 {
		b.recorder.EventDropped(dropped)
	}
}

// SubscriberCount 当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription 单个订阅者的有界环形队列
type Subscription struct {
	mu      sync.Mutex
	buf     []event.Event
	head    int
	size    int
	dropped uint64
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

func newSubscription(capacity int) *Subscription {
	return &Subscription{
		buf:   make([]event.Event, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push 入队，返回是否因队列已满丢弃了最旧事件
func (s *Subscription) push(ev event.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	overflow := false
	if s.size == len(s.buf) {
		s.buf[s.head] = nil
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
		overflow = true
	}
	s.buf[(s.head+s.size)%len(s.buf)] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return overflow
}

// Ready 有待投递事件时可读
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Done 订阅注销后关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Drain 按发布顺序取出全部待投递事件
func (s *Subscription) Drain() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return nil
	}
	out := make([]event.Event, 0, s.size)
	for s.size > 0 {
		out = append(out, s.buf[s.head])
		s.buf[s.head] = nil
		s.head = (s.head + 1) % len(s.buf)
		s.size--
	}
	s.head = 0
	return out
}

// Dropped 因积压被丢弃的事件数
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Len 当前积压的事件数
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i := range s.buf {
		s.buf[i] = nil
	}
	s.size = 0
	close(s.done)
}
