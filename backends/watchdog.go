package backends

import (
	"log"
	"sync/atomic"
	"time"
)

// watchdog monitors the frame cadence of a backend. If no frame arrives
// within the configured period the backend marks itself faulty; the
// supervisor observes the flag and restarts the backend.
type watchdog struct {
	name   string
	buffer *FrameBuffer
	period time.Duration

	faulty atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

func newWatchdog(name string, buffer *FrameBuffer, period time.Duration) *watchdog {
	return &watchdog{name: name, buffer: buffer, period: period}
}

func (w *watchdog) start() {
	w.faulty.Store(false)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		started := time.Now()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				last := w.buffer.LastPublished()
				if last.IsZero() {
					// no frame ever delivered; grant the grace period from start
					last = started
				}
				if time.Since(last) > w.period {
					log.Printf("%s: watchdog: no frame within %s, marking faulty", w.name, w.period)
					w.faulty.Store(true)
					return
				}
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *watchdog) halt() {
	if w.stop == nil {
		return
	}
	select {
	case <-w.done:
	default:
		close(w.stop)
		<-w.done
	}
	w.stop = nil
}

func (w *watchdog) markedFaulty() bool {
	return w.faulty.Load()
}

func (w *watchdog) markFaulty() {
	w.faulty.Store(true)
}
