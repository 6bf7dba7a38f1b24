package connection

import (
	"sync"
	"testing"

	"github.com/ceyewan/rchat/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanoutToEverySubscriber(t *testing.T) {
	bus := NewBus(8, nil)
	a := bus.Subscribe()
	b := bus.Subscribe()
	require.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(event.ServerCreated{ServerName: "Gophers", OwnerUsername: "alice"})
	bus.Publish(event.ServerDeleted{ServerName: "Gophers"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Ready():
		default:
			t.Fatal("订阅者应收到就绪通知")
		}
		events := sub.Drain()
		require.Len(t, events, 2)
		assert.Equal(t, event.KindServerCreated, events[0].Kind())
		assert.Equal(t, event.KindServerDeleted, events[1].Kind())
	}
}

func TestBus_DropOldestOnOverflow(t *testing.T) {
	rec := &countingRecorder{}
	bus := NewBus(3, rec)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(event.UserTyping{Username: "alice", ChannelID: string(rune('a' + i))})
		if i < 2 {
			fast.Drain()
		}
	}

	events := slow.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].(event.UserTyping).ChannelID)
	assert.Equal(t, "e", events[2].(event.UserTyping).ChannelID)
	assert.EqualValues(t, 2, slow.Dropped())
	assert.Zero(t, fast.Dropped())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 5, rec.published)
	assert.Equal(t, 2, rec.dropped)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(4, nil)
	sub := bus.Subscribe()
	bus.Publish(event.Pong{})
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	assert.Zero(t, bus.SubscriberCount())
	assert.Zero(t, sub.Len())
	select {
	case <-sub.Done():
	default:
		t.Fatal("注销后 Done 应关闭")
	}

	bus.Publish(event.Pong{})
	assert.Zero(t, sub.Len())
}

func TestBus_ConcurrentPublishKeepsPerPublisherOrder(t *testing.T) {
	bus := NewBus(1000, nil)
	sub := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Publish(event.ServerStatsUpdated{ServerName: string(rune('A' + p)), MemberCount: int64(i)})
			}
		}(p)
	}
	wg.Wait()

	events := sub.Drain()
	require.Len(t, events, 400)
	last := map[string]int64{}
	for _, ev := range events {
		stats := ev.(event.ServerStatsUpdated)
		if prev, ok := last[stats.ServerName]; ok {
			assert.Greater(t, stats.MemberCount, prev)
		}
		last[stats.ServerName] = stats.MemberCount
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	published int
	dropped   int
	opened    int
	closed    int
}

func (r *countingRecorder) EventPublished(event.Kind) {
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
}

func (r *countingRecorder) EventDropped(n int) {
	r.mu.Lock()
	r.dropped += n
	r.mu.Unlock()
}

func (r *countingRecorder) ConnectionOpened() {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *countingRecorder) ConnectionClosed() {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
}
