package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/mvickers/meshdeck/pkg/merge"
	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/msglog"
	"github.com/mvickers/meshdeck/pkg/omap"
	"github.com/mvickers/meshdeck/pkg/overlay"
	"github.com/mvickers/meshdeck/pkg/transport"
)

// Device is the per-device aggregate: node records, config overlay, message
// log and connection phase. All mutation entry points run under one lock so
// readers never observe a half-applied event.
type Device struct {
	ID   string
	Name string

	mu             sync.RWMutex
	phase          models.ConnectionPhase
	phaseChangedAt time.Time
	nodes          *omap.OrderedMap[models.NodeID, models.NodeRecord]
	overlay        *overlay.Overlay
	messages       *msglog.Log
	link           transport.Transport

	pendingAcks *ttlcache.Cache[string, models.ConversationKey]
	stopAcks    sync.Once

	save   func(*models.DeviceSnapshot)
	notify func()
	log    *slog.Logger

	stopPump func()
}

func newDevice(id, name string, mode overlay.DiffMode, ackTimeout time.Duration, logger *slog.Logger) *Device {
	d := &Device{
		ID:       id,
		Name:     name,
		phase:    models.PhaseDisconnected,
		nodes:    omap.New[models.NodeID, models.NodeRecord](),
		overlay:  overlay.New(mode),
		messages: msglog.New(logger),
		save:     func(*models.DeviceSnapshot) {},
		notify:   func() {},
		log:      logger,
	}
	d.pendingAcks = ttlcache.New[string, models.ConversationKey](
		ttlcache.WithTTL[string, models.ConversationKey](ackTimeout),
		ttlcache.WithDisableTouchOnHit[string, models.ConversationKey](),
	)
	d.pendingAcks.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, models.ConversationKey]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		// Runs off the cache's goroutine so device and cache locks are
		// never taken in opposite orders.
		go d.expirePending(item.Key())
	})
	go d.pendingAcks.Start()
	return d
}

// HandleEvent folds one decoded transport event into the aggregate. It
// never returns an error: partial or untrusted mesh data is an expected
// condition and is flagged on the affected record instead.
func (d *Device) HandleEvent(ev models.Event) {
	d.mu.Lock()
	switch e := ev.(type) {
	case models.NodeInfoEvent:
		d.mergeLocked(e.Update)
	case models.PositionEvent:
		d.mergeLocked(e.Update)
	case models.MetricsEvent:
		d.mergeLocked(e.Update)
	case models.TextMessageEvent:
		d.messages.Append(e.Message)
	case models.DeliveryReceiptEvent:
		d.resolveReceiptLocked(e)
	case models.ConfigConfirmEvent:
		d.overlay.Commit(e.Section, e.Value)
		d.log.Info("config section committed", "device", d.ID, "section", e.Section)
	case models.PhaseChangeEvent:
		d.setPhaseLocked(e)
	default:
		d.mu.Unlock()
		d.log.Warn("ignoring unknown event", "device", d.ID, "event", fmt.Sprintf("%T", ev))
		return
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()

	d.save(snap)
	d.notify()
}

func (d *Device) mergeLocked(update models.NodeUpdate) {
	var existing *models.NodeRecord
	if rec, ok := d.nodes.Get(update.Num); ok {
		existing = &rec
	}
	merged := merge.Merge(existing, update)
	if merged.TrustError == models.TrustErrorMismatchPKI && (existing == nil || existing.TrustError == models.TrustErrorNone) {
		d.log.Warn("identity key mismatch, keeping stored identity",
			"device", d.ID, "node", update.Num)
	}
	d.nodes.Set(update.Num, merged)
}

func (d *Device) resolveReceiptLocked(receipt models.DeliveryReceiptEvent) {
	next := models.AckAcknowledged
	if !receipt.Success {
		next = models.AckFailed
	}
	d.messages.UpdateAckState(receipt.CorrelationID, next)
	d.pendingAcks.Delete(receipt.CorrelationID)
}

func (d *Device) setPhaseLocked(e models.PhaseChangeEvent) {
	if !d.phase.CanTransitionTo(e.Phase) && d.phase != e.Phase {
		d.log.Debug("unexpected phase transition", "device", d.ID, "from", d.phase, "to", e.Phase)
	}
	d.phase = e.Phase
	d.phaseChangedAt = e.Time
}

// expirePending marks a message failed when its receipt never arrived.
func (d *Device) expirePending(correlationID string) {
	d.mu.Lock()
	applied := d.messages.UpdateAckState(correlationID, models.AckFailed)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	if applied {
		d.log.Info("send timed out", "device", d.ID, "correlation_id", correlationID)
		d.save(snap)
		d.notify()
	}
}

// SendText appends a pending entry and submits the message, returning the
// correlation id used to match the delivery receipt. On transport failure
// the entry is marked failed and ErrApplyFailed is returned.
func (d *Device) SendText(ctx context.Context, conversation models.ConversationKey, payload string, ackRequested bool) (string, error) {
	d.mu.Lock()
	link := d.link
	if link == nil {
		d.mu.Unlock()
		return "", models.ErrNotConnected
	}
	correlationID := uuid.NewString()
	d.messages.Append(models.Message{
		CorrelationID: correlationID,
		Conversation:  conversation,
		Payload:       payload,
		Outgoing:      true,
		AckRequested:  ackRequested,
		AckState:      models.AckPending,
		RxTime:        time.Now().UTC(),
	})
	if ackRequested {
		d.pendingAcks.Set(correlationID, conversation, ttlcache.DefaultTTL)
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.save(snap)
	d.notify()

	if err := link.SendText(ctx, conversation, payload, ackRequested, correlationID); err != nil {
		d.mu.Lock()
		d.messages.UpdateAckState(correlationID, models.AckFailed)
		d.pendingAcks.Delete(correlationID)
		snap := d.snapshotLocked()
		d.mu.Unlock()
		d.save(snap)
		d.notify()
		return correlationID, fmt.Errorf("%w: %w", models.ErrApplyFailed, err)
	}
	return correlationID, nil
}

// ApplyConfig pushes the working draft for a section to the device. The
// draft stays in place until a ConfigConfirmEvent commits it, and stays
// untouched on failure so the user's edit is never lost.
func (d *Device) ApplyConfig(ctx context.Context, section string) error {
	d.mu.RLock()
	link := d.link
	working, ok := d.overlay.Working(section)
	d.mu.RUnlock()
	if link == nil {
		return models.ErrNotConnected
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNoDraft, section)
	}
	if err := link.ApplyConfig(ctx, section, working); err != nil {
		return fmt.Errorf("%w: %w", models.ErrApplyFailed, err)
	}
	return nil
}

// RequestPosition asks a peer for a fresh position broadcast.
func (d *Device) RequestPosition(ctx context.Context, node models.NodeID) error {
	d.mu.RLock()
	link := d.link
	d.mu.RUnlock()
	if link == nil {
		return models.ErrNotConnected
	}
	if err := link.RequestPosition(ctx, node); err != nil {
		return fmt.Errorf("%w: %w", models.ErrApplyFailed, err)
	}
	return nil
}

// SetWorking stores a validated config draft.
func (d *Device) SetWorking(section string, value map[string]any) error {
	d.mu.Lock()
	err := d.overlay.SetWorking(section, value)
	var snap *models.DeviceSnapshot
	if err == nil {
		snap = d.snapshotLocked()
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.save(snap)
	d.notify()
	return nil
}

// DiscardWorking drops a config draft.
func (d *Device) DiscardWorking(section string) {
	d.mu.Lock()
	d.overlay.DiscardWorking(section)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.save(snap)
	d.notify()
}

// SectionView is the UI-facing read model for one config section.
type SectionView struct {
	Committed map[string]any `json:"committed,omitempty"`
	Working   map[string]any `json:"working,omitempty"`
	Effective map[string]any `json:"effective,omitempty"`
	Dirty     bool           `json:"dirty"`
}

// Section returns the committed/working/effective values and dirty flag.
func (d *Device) Section(name string) SectionView {
	d.mu.RLock()
	defer d.mu.RUnlock()
	view := SectionView{Dirty: d.overlay.IsDirty(name)}
	view.Committed, _ = d.overlay.Committed(name)
	view.Working, _ = d.overlay.Working(name)
	view.Effective, _ = d.overlay.Effective(name)
	return view
}

// Nodes returns the node records in first-seen order.
func (d *Device) Nodes() []models.NodeRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.NodeRecord, 0, d.nodes.Len())
	d.nodes.ForEach(func(_ models.NodeID, rec models.NodeRecord) bool {
		out = append(out, rec.Clone())
		return true
	})
	return out
}

// Node returns one node record.
func (d *Device) Node(id models.NodeID) (models.NodeRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.nodes.Get(id)
	if !ok {
		return models.NodeRecord{}, false
	}
	return rec.Clone(), true
}

// RemoveNode deletes a node record. This is the only path that removes
// one; inbound events never delete.
func (d *Device) RemoveNode(id models.NodeID) {
	d.mu.Lock()
	d.nodes.Delete(id)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.save(snap)
	d.notify()
}

// Messages returns one conversation's entries in arrival order.
func (d *Device) Messages(conversation models.ConversationKey) []models.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messages.List(conversation)
}

// Conversations returns the known conversation keys.
func (d *Device) Conversations() []models.ConversationKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messages.Conversations()
}

// ClearHistory purges one conversation, or all when key is empty.
func (d *Device) ClearHistory(conversation models.ConversationKey) {
	d.mu.Lock()
	d.messages.Clear(conversation)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.save(snap)
	d.notify()
}

// Phase returns the connection phase and when it last changed.
func (d *Device) Phase() (models.ConnectionPhase, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.phase, d.phaseChangedAt
}

// Snapshot exports the aggregate for persistence.
func (d *Device) Snapshot() *models.DeviceSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Device) snapshotLocked() *models.DeviceSnapshot {
	nodes := omap.New[models.NodeID, models.NodeRecord]()
	d.nodes.ForEach(func(id models.NodeID, rec models.NodeRecord) bool {
		nodes.Set(id, rec.Clone())
		return true
	})
	return &models.DeviceSnapshot{
		DeviceID:       d.ID,
		Name:           d.Name,
		Phase:          d.phase,
		PhaseChangedAt: d.phaseChangedAt,
		Nodes:          nodes,
		Conversations:  d.messages.Snapshot(),
		Sections:       d.overlay.Snapshot(),
	}
}

func (d *Device) restore(snap *models.DeviceSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Name = snap.Name
	// A rehydrated device always starts disconnected; the persisted phase
	// described a link that no longer exists.
	d.phase = models.PhaseDisconnected
	if snap.Nodes != nil {
		snap.Nodes.ForEach(func(id models.NodeID, rec models.NodeRecord) bool {
			d.nodes.Set(id, rec.Clone())
			return true
		})
	}
	d.messages.Restore(snap.Conversations)
	if snap.Sections != nil {
		d.overlay.Restore(snap.Sections)
	}
}

// attach borrows a transport and pumps its event stream until the stream
// closes or the device is removed. The registry owns the pump's lifetime.
func (d *Device) attach(link transport.Transport) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.stopPump != nil {
		d.stopPump()
	}
	d.link = link
	d.stopPump = cancel
	d.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-link.Events():
				if !ok {
					d.HandleEvent(models.PhaseChangeEvent{Phase: models.PhaseDisconnected, Time: time.Now()})
					return
				}
				d.HandleEvent(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// detach stops the event pump and forgets the transport. The device can
// attach a new transport afterwards; pending-ack timers keep running.
func (d *Device) detach() {
	d.mu.Lock()
	if d.stopPump != nil {
		d.stopPump()
		d.stopPump = nil
	}
	d.link = nil
	d.mu.Unlock()
}

// close is final teardown on removal or shutdown.
func (d *Device) close() {
	d.detach()
	d.stopAcks.Do(d.pendingAcks.Stop)
}
