package sse

import (
	"fmt"
	"log"
	"net/http"
	"time"
)

const retryMillis = 10000

// Handler streams bus events to one client as Server-Sent Events. A ping
// event with the current UTC time is sent every second so clients can detect
// a dead connection. Streaming ends when the client disconnects.
type Handler struct {
	Bus *Bus

	// OnSubscribe lets services replay initial state (onetime information
	// record, current job state) to a fresh subscriber.
	OnSubscribe func(sub *Subscriber)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Bus.Subscribe()
	defer h.Bus.Unsubscribe(sub)

	if h.OnSubscribe != nil {
		h.OnSubscribe(sub)
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Bus.DispatchTo(sub, EventPing{})
			case <-pingDone:
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		ev, ok := sub.Next(ctx.Done())
		if !ok {
			log.Printf("sse: client %s disconnected", r.RemoteAddr)
			return
		}

		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\nretry: %d\ndata: %s\n\n",
			ev.ID, ev.Event, retryMillis, ev.Data); err != nil {
			return
		}
		flusher.Flush()
	}
}
