// Package store holds the per-device aggregates and the registry that owns
// them. The registry is constructed at startup and passed explicitly to
// collaborators; there is no ambient global device state.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/overlay"
	"github.com/mvickers/meshdeck/pkg/persist"
	"github.com/mvickers/meshdeck/pkg/transport"
)

// DefaultAckTimeout bounds how long a sent message stays pending before it
// is marked failed.
const DefaultAckTimeout = 60 * time.Second

// Options tunes registry behavior.
type Options struct {
	// DiffMode controls the config overlay dirtiness comparison.
	DiffMode overlay.DiffMode
	// AckTimeout is how long to wait for a delivery receipt.
	AckTimeout time.Duration
	// CoalesceWindow is the persistence write-coalescing window.
	CoalesceWindow time.Duration
}

// Registry owns every device aggregate and mirrors them to durable storage.
type Registry struct {
	opts    Options
	adapter persist.Adapter
	saver   *persist.Coalescer
	log     *slog.Logger

	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	notifier func()
}

// NewRegistry creates an empty registry persisting through adapter.
func NewRegistry(adapter persist.Adapter, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Registry{
		opts:     opts,
		adapter:  adapter,
		saver:    persist.NewCoalescer(adapter, opts.CoalesceWindow, logger),
		log:      logger,
		devices:  make(map[string]*Device),
		notifier: func() {},
	}
}

// SetNotifier installs a callback invoked after any device state change,
// used to tick SSE subscribers. Must be set before devices are added.
func (r *Registry) SetNotifier(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	r.notifier = fn
}

// Rehydrate loads every persisted snapshot and recreates its device.
// Unreadable snapshots were already discarded by the adapter; the devices
// they described start fresh on their next AddDevice.
func (r *Registry) Rehydrate() error {
	snaps, err := r.adapter.LoadAll()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		d := r.newDeviceLocked(snap.DeviceID, snap.Name)
		d.restore(snap)
		r.mu.Lock()
		r.devices[d.ID] = d
		r.order = append(r.order, d.ID)
		r.mu.Unlock()
		r.log.Info("rehydrated device", "device", d.ID, "name", d.Name, "nodes", snap.Nodes.Len())
	}
	return nil
}

func (r *Registry) newDeviceLocked(id, name string) *Device {
	d := newDevice(id, name, r.opts.DiffMode, r.opts.AckTimeout, r.log)
	d.save = func(snap *models.DeviceSnapshot) { r.saver.Schedule(id, snap) }
	d.notify = func() { r.notifier() }
	return d
}

// AddDevice creates a new device aggregate and returns it.
func (r *Registry) AddDevice(name string) *Device {
	id := uuid.NewString()
	d := r.newDeviceLocked(id, name)
	r.mu.Lock()
	r.devices[id] = d
	r.order = append(r.order, id)
	r.mu.Unlock()
	r.log.Info("device added", "device", id, "name", name)
	d.save(d.Snapshot())
	r.notifier()
	return d
}

// GetDevice returns the device for id, if known.
func (r *Registry) GetDevice(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Devices returns every device in creation order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// AttachTransport borrows a transport for the device and starts pumping
// its event stream. The transport is not owned; callers close it.
func (r *Registry) AttachTransport(id string, link transport.Transport) error {
	d, ok := r.GetDevice(id)
	if !ok {
		return models.ErrDeviceNotFound
	}
	d.attach(link)
	r.log.Info("transport attached", "device", id)
	return nil
}

// DetachTransport stops the device's event pump and marks it disconnected.
// The transport itself is not closed; callers own that.
func (r *Registry) DetachTransport(id string) error {
	d, ok := r.GetDevice(id)
	if !ok {
		return models.ErrDeviceNotFound
	}
	d.detach()
	d.HandleEvent(models.PhaseChangeEvent{Phase: models.PhaseDisconnected, Time: time.Now()})
	r.log.Info("transport detached", "device", id)
	return nil
}

// RemoveDevice tears down a device and deletes its persisted snapshot.
// This is the only path that destroys device state.
func (r *Registry) RemoveDevice(id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return models.ErrDeviceNotFound
	}
	delete(r.devices, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	d.close()
	r.saver.Drop(id)
	if err := r.adapter.Remove(id); err != nil {
		return err
	}
	r.log.Info("device removed", "device", id)
	r.notifier()
	return nil
}

// Close flushes pending writes and tears down every device.
func (r *Registry) Close() {
	for _, d := range r.Devices() {
		d.close()
	}
	r.saver.Close()
}
