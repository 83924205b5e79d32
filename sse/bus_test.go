package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestBusDispatchReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Dispatch(EventFrontendNotification{Caption: "hello"})

	for _, sub := range []*Subscriber{a, b} {
		ev, ok := sub.Next(closedChan())
		require.True(t, ok)
		assert.Equal(t, "FrontendNotification", ev.Event)
		assert.Contains(t, string(ev.Data), "hello")
	}
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		bus.Dispatch(EventFrontendNotification{Caption: fmt.Sprintf("msg-%d", i)})
	}

	for i := 0; i < 10; i++ {
		ev, ok := sub.Next(closedChan())
		require.True(t, ok)
		assert.Contains(t, string(ev.Data), fmt.Sprintf("msg-%d", i))
	}
}

func TestBusOverflowDropsOldest(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < subscriberQueueSize+10; i++ {
		bus.Dispatch(EventFrontendNotification{Caption: fmt.Sprintf("msg-%d", i)})
	}

	// the first 10 events were dropped; msg-10 is now the head
	ev, ok := sub.Next(closedChan())
	require.True(t, ok)
	assert.Contains(t, string(ev.Data), "msg-10")

	count := 1
	for {
		_, ok := sub.Next(closedChan())
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, subscriberQueueSize, count)
}

func TestBusDispatchToSingleSubscriber(t *testing.T) {
	bus := NewBus()
	target := bus.Subscribe()
	other := bus.Subscribe()
	defer bus.Unsubscribe(target)
	defer bus.Unsubscribe(other)

	bus.DispatchTo(target, EventPing{})

	ev, ok := target.Next(closedChan())
	require.True(t, ok)
	assert.Equal(t, "ping", ev.Event)

	_, ok = other.Next(closedChan())
	assert.False(t, ok, "other subscribers must not see targeted events")
}

func TestUnsubscribeWakesBlockedReader(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(make(chan struct{}))
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Unsubscribe(sub)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader not woken by unsubscribe")
	}
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventProcessStateinfoNilJob(t *testing.T) {
	data, err := json.Marshal(EventProcessStateinfo{Job: nil}.Data())
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(data), "idle state serializes as empty object")
}

func TestHandlerWritesEventFrames(t *testing.T) {
	bus := NewBus()
	h := &Handler{
		Bus: bus,
		OnSubscribe: func(sub *Subscriber) {
			bus.DispatchTo(sub, EventFrontendNotification{Caption: "welcome"})
		},
	}

	req := httptest.NewRequest("GET", "/api/sse", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: FrontendNotification")
	assert.Contains(t, body, "retry: 10000")
	assert.Contains(t, body, "welcome")
	require.True(t, strings.Contains(body, "id: "), "frames carry event ids")
}
