package backends

import (
	"sync"
	"time"
)

// FrameBuffer is the single-slot, latest-wins handoff between a device
// worker and its consumers. Producers overwrite the slot and wake all
// waiters; consumers may miss intermediate frames but never observe frames
// out of capture order.
type FrameBuffer struct {
	mu      sync.Mutex
	frame   []byte
	seq     uint64
	lastAt  time.Time
	updated chan struct{}
	closed  bool
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{updated: make(chan struct{})}
}

// Publish stores the newest frame and wakes every waiter.
func (b *FrameBuffer) Publish(jpeg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.frame = jpeg
	b.seq++
	b.lastAt = time.Now()
	close(b.updated)
	b.updated = make(chan struct{})
}

// Wait blocks until a frame newer than the call time is published, then
// returns it. ErrBackendTimeout after the timeout, ErrShutdown once closed.
func (b *FrameBuffer) Wait(timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return nil, ErrShutdown
		}
		ch := b.updated
		b.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return nil, ErrBackendTimeout
		}

		b.mu.Lock()
		if b.frame != nil {
			frame := b.frame
			b.mu.Unlock()
			return frame, nil
		}
	}
}

// Latest returns the current frame without waiting, nil if none arrived yet.
func (b *FrameBuffer) Latest() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

// LastPublished reports when the most recent frame arrived; the zero time
// if none did. Used by the cadence watchdog.
func (b *FrameBuffer) LastPublished() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAt
}

func (b *FrameBuffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close wakes all waiters with ErrShutdown. A closed buffer can be reused
// after Reset (backend restart).
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.updated)
	b.updated = make(chan struct{})
}

func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	b.frame = nil
	b.lastAt = time.Time{}
}
