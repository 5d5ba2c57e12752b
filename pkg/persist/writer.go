package persist

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mvickers/meshdeck/pkg/models"
)

// DefaultWindow is the coalescing window applied when none is configured.
const DefaultWindow = 500 * time.Millisecond

// Coalescer collapses bursts of snapshot mutations into single physical
// writes. Writes for one device are serialized (at most one in flight);
// a snapshot superseded before its write starts is simply replaced. Write
// failures are logged and never reach the mutation path.
type Coalescer struct {
	adapter Adapter
	window  time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*devicePending
	wg      sync.WaitGroup
}

type devicePending struct {
	snap    *models.DeviceSnapshot
	timer   *time.Timer
	writing bool
	dropped bool
	// done is closed when the in-flight write finishes; only set while
	// writing is true.
	done chan struct{}
}

// NewCoalescer wraps adapter with a write-coalescing layer.
func NewCoalescer(adapter Adapter, window time.Duration, logger *slog.Logger) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		adapter: adapter,
		window:  window,
		log:     logger,
		pending: make(map[string]*devicePending),
	}
}

// Schedule records the latest snapshot for deviceID and arms the write
// timer if one is not already pending.
func (c *Coalescer) Schedule(deviceID string, snap *models.DeviceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[deviceID]
	if p == nil || p.dropped {
		p = &devicePending{}
		c.pending[deviceID] = p
	}
	p.snap = snap
	if p.timer == nil && !p.writing {
		p.timer = time.AfterFunc(c.window, func() { c.flush(deviceID) })
	}
}

// Drop cancels any pending write for deviceID and waits for an in-flight
// one to finish. Used on device removal so a stale snapshot cannot
// resurrect a deleted row: once Drop returns, no write for this device is
// pending or running, and the caller may delete the row.
func (c *Coalescer) Drop(deviceID string) {
	c.mu.Lock()
	p, ok := c.pending[deviceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.snap = nil
	if !p.writing {
		delete(c.pending, deviceID)
		c.mu.Unlock()
		return
	}
	p.dropped = true
	done := p.done
	c.mu.Unlock()
	<-done
}

// Flush writes any pending snapshot for deviceID immediately.
func (c *Coalescer) Flush(deviceID string) {
	c.mu.Lock()
	p := c.pending[deviceID]
	if p != nil && p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	c.mu.Unlock()
	c.flush(deviceID)
}

// Close flushes every pending snapshot and waits for in-flight writes.
func (c *Coalescer) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.flush(id)
	}
	c.wg.Wait()
}

func (c *Coalescer) flush(deviceID string) {
	c.mu.Lock()
	p := c.pending[deviceID]
	if p == nil {
		c.mu.Unlock()
		return
	}
	p.timer = nil
	if p.writing || p.snap == nil {
		// An in-flight write will re-arm for the queued snapshot.
		c.mu.Unlock()
		return
	}
	snap := p.snap
	p.snap = nil
	p.writing = true
	p.done = make(chan struct{})
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.adapter.Save(deviceID, snap); err != nil {
			c.log.Warn("snapshot write failed", "device", deviceID, "error", err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		p.writing = false
		close(p.done)
		if p.dropped {
			// A Schedule may have replaced the dropped entry already.
			if c.pending[deviceID] == p {
				delete(c.pending, deviceID)
			}
			return
		}
		if p.snap != nil {
			if p.timer == nil {
				p.timer = time.AfterFunc(c.window, func() { c.flush(deviceID) })
			}
		} else if p.timer == nil {
			delete(c.pending, deviceID)
		}
	}()
}
