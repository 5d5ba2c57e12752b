package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Notifier provides a way to notify SSE subscribers about state changes.
type Notifier struct {
	subscribers map[chan struct{}]struct{}
	mu          sync.RWMutex
}

// NewNotifier creates a new Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe adds a new subscriber that will be notified on state changes.
func (n *Notifier) Subscribe() chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{}, 1)
	n.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber.
func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subscribers, ch)
	close(ch)
}

// Notify triggers all subscribers about a change.
func (n *Notifier) Notify() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending notification, skip
		}
	}
}

// SSE endpoint pushing a device summary on every state change.
func (wr *WebRouter) devicesSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	notifyCh := wr.notifier.Subscribe()
	defer wr.notifier.Unsubscribe(notifyCh)

	ctx := r.Context()

	// Heartbeat keeps intermediaries from reaping the connection.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	sendUpdate := func() error {
		payload, err := json.Marshal(wr.deviceSummaries())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: devices\ndata: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendUpdate(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
			if err := sendUpdate(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
