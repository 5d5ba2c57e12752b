package persist

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mvickers/meshdeck/pkg/models"
)

// recordingAdapter counts writes per device and remembers the last snapshot.
type recordingAdapter struct {
	mu     sync.Mutex
	saves  map[string]int
	last   map[string]*models.DeviceSnapshot
	outage error
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{
		saves: make(map[string]int),
		last:  make(map[string]*models.DeviceSnapshot),
	}
}

func (a *recordingAdapter) Save(deviceID string, snap *models.DeviceSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outage != nil {
		return a.outage
	}
	a.saves[deviceID]++
	a.last[deviceID] = snap
	return nil
}

func (a *recordingAdapter) Load(string) (*models.DeviceSnapshot, error) { return nil, nil }
func (a *recordingAdapter) LoadAll() ([]*models.DeviceSnapshot, error)  { return nil, nil }
func (a *recordingAdapter) Remove(string) error                         { return nil }
func (a *recordingAdapter) Close() error                                { return nil }

func (a *recordingAdapter) saveCount(deviceID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves[deviceID]
}

func (a *recordingAdapter) lastSnapshot(deviceID string) *models.DeviceSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last[deviceID]
}

func TestCoalescerCollapsesBurst(t *testing.T) {
	adapter := newRecordingAdapter()
	c := NewCoalescer(adapter, 50*time.Millisecond, nil)
	defer c.Close()

	for i := 0; i < 20; i++ {
		c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1", Name: "burst"})
	}
	// Last snapshot in the window wins.
	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1", Name: "final"})

	deadline := time.Now().Add(2 * time.Second)
	for adapter.saveCount("dev-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := adapter.saveCount("dev-1"); got != 1 {
		t.Errorf("burst produced %d writes, want 1", got)
	}
	if snap := adapter.lastSnapshot("dev-1"); snap == nil || snap.Name != "final" {
		t.Errorf("written snapshot = %+v, want the latest one", snap)
	}
}

func TestCoalescerIndependentDevices(t *testing.T) {
	adapter := newRecordingAdapter()
	c := NewCoalescer(adapter, 20*time.Millisecond, nil)
	defer c.Close()

	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1"})
	c.Schedule("dev-2", &models.DeviceSnapshot{DeviceID: "dev-2"})
	c.Close()

	if adapter.saveCount("dev-1") != 1 || adapter.saveCount("dev-2") != 1 {
		t.Errorf("saves = %v, want one per device", adapter.saves)
	}
}

func TestCoalescerDropCancelsPendingWrite(t *testing.T) {
	adapter := newRecordingAdapter()
	c := NewCoalescer(adapter, 30*time.Millisecond, nil)
	defer c.Close()

	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1"})
	c.Drop("dev-1")

	time.Sleep(100 * time.Millisecond)
	if got := adapter.saveCount("dev-1"); got != 0 {
		t.Errorf("dropped device still wrote %d times", got)
	}
}

func TestCoalescerWriteFailureDoesNotPropagate(t *testing.T) {
	adapter := newRecordingAdapter()
	adapter.outage = errors.New("disk full")
	c := NewCoalescer(adapter, 10*time.Millisecond, nil)

	// Schedule must not panic or block; the failure is only logged.
	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1"})
	c.Close()

	if got := adapter.saveCount("dev-1"); got != 0 {
		t.Errorf("failed write recorded %d saves", got)
	}
}

// blockingAdapter parks Save until released so tests can hold a write in
// flight.
type blockingAdapter struct {
	mu      sync.Mutex
	saves   int
	entered chan struct{}
	release chan struct{}
}

func newBlockingAdapter() *blockingAdapter {
	return &blockingAdapter{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (a *blockingAdapter) Save(string, *models.DeviceSnapshot) error {
	a.entered <- struct{}{}
	<-a.release
	a.mu.Lock()
	a.saves++
	a.mu.Unlock()
	return nil
}

func (a *blockingAdapter) Load(string) (*models.DeviceSnapshot, error) { return nil, nil }
func (a *blockingAdapter) LoadAll() ([]*models.DeviceSnapshot, error)  { return nil, nil }
func (a *blockingAdapter) Remove(string) error                         { return nil }
func (a *blockingAdapter) Close() error                                { return nil }

func (a *blockingAdapter) saveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func TestDropWaitsForInFlightWrite(t *testing.T) {
	adapter := newBlockingAdapter()
	c := NewCoalescer(adapter, time.Millisecond, nil)

	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1"})
	<-adapter.entered
	// The write is in flight; queue another snapshot behind it, as a burst
	// of mutations right before removal would.
	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1", Name: "late"})

	dropped := make(chan struct{})
	go func() {
		c.Drop("dev-1")
		close(dropped)
	}()

	select {
	case <-dropped:
		t.Fatal("Drop returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.release)
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("Drop never returned after the write finished")
	}

	// Once Drop has returned the caller may delete the row: the in-flight
	// write is done and the queued snapshot must never be written.
	time.Sleep(20 * time.Millisecond)
	if got := adapter.saveCount(); got != 1 {
		t.Errorf("writes after Drop = %d, want only the in-flight one", got)
	}

	c.Close()
}

func TestCoalescerFlushWritesImmediately(t *testing.T) {
	adapter := newRecordingAdapter()
	c := NewCoalescer(adapter, time.Hour, nil)
	defer c.Close()

	c.Schedule("dev-1", &models.DeviceSnapshot{DeviceID: "dev-1", Name: "now"})
	c.Flush("dev-1")

	deadline := time.Now().Add(2 * time.Second)
	for adapter.saveCount("dev-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if adapter.saveCount("dev-1") != 1 {
		t.Error("Flush() did not write pending snapshot")
	}
}
