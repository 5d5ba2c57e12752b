// Package msglog keeps the per-conversation ordered chat and telemetry log
// for one device, with replay-safe appends and monotone ack transitions.
package msglog

import (
	"log/slog"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/omap"
)

// TelemetryCap bounds how many entries a telemetry conversation retains.
// Chat conversations are unbounded; only explicit clears purge them.
const TelemetryCap = 100

// TelemetryConversation collects device debug/telemetry text that is not
// addressed to any channel or peer.
const TelemetryConversation models.ConversationKey = "telemetry"

// Log is the message log for one device. Not safe for concurrent use; the
// owning device aggregate serializes access through its event loop.
type Log struct {
	conversations *omap.OrderedMap[models.ConversationKey, []models.Message]
	log           *slog.Logger
}

// New returns an empty log.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		conversations: omap.New[models.ConversationKey, []models.Message](),
		log:           logger,
	}
}

// Append adds an entry to its conversation, or updates the existing entry
// in place when one with the same correlation id is already present, so a
// redelivered message never duplicates. Arrival order is preserved.
func (l *Log) Append(msg models.Message) {
	entries, _ := l.conversations.Get(msg.Conversation)
	for i := range entries {
		if entries[i].CorrelationID == msg.CorrelationID {
			entries[i] = msg
			l.conversations.Set(msg.Conversation, entries)
			return
		}
	}
	entries = append(entries, msg)
	if msg.Conversation == TelemetryConversation && len(entries) > TelemetryCap {
		entries = entries[len(entries)-TelemetryCap:]
	}
	l.conversations.Set(msg.Conversation, entries)
}

// UpdateAckState moves the entry with the given correlation id to a new ack
// state. Backward transitions are ignored and logged; the log reports
// whether a transition was applied.
func (l *Log) UpdateAckState(correlationID string, next models.AckState) bool {
	applied := false
	l.conversations.ForEach(func(key models.ConversationKey, entries []models.Message) bool {
		for i := range entries {
			if entries[i].CorrelationID != correlationID {
				continue
			}
			if !entries[i].AckState.CanTransitionTo(next) {
				l.log.Debug("ignoring backward ack transition",
					"correlation_id", correlationID,
					"current", entries[i].AckState,
					"requested", next)
				return false
			}
			entries[i].AckState = next
			l.conversations.Set(key, entries)
			applied = true
			return false
		}
		return true
	})
	return applied
}

// List returns the entries of a conversation in arrival order.
func (l *Log) List(conversation models.ConversationKey) []models.Message {
	entries, _ := l.conversations.Get(conversation)
	out := make([]models.Message, len(entries))
	copy(out, entries)
	return out
}

// Conversations returns the known conversation keys in first-seen order.
func (l *Log) Conversations() []models.ConversationKey {
	return l.conversations.Keys()
}

// Clear purges one conversation, or every conversation when key is empty.
func (l *Log) Clear(conversation models.ConversationKey) {
	if conversation == "" {
		l.conversations = omap.New[models.ConversationKey, []models.Message]()
		return
	}
	l.conversations.Delete(conversation)
}

// Snapshot exports the log for persistence.
func (l *Log) Snapshot() *omap.OrderedMap[models.ConversationKey, []models.Message] {
	out := omap.New[models.ConversationKey, []models.Message]()
	l.conversations.ForEach(func(key models.ConversationKey, entries []models.Message) bool {
		copied := make([]models.Message, len(entries))
		copy(copied, entries)
		out.Set(key, copied)
		return true
	})
	return out
}

// Restore rebuilds the log from a persisted snapshot.
func (l *Log) Restore(conversations *omap.OrderedMap[models.ConversationKey, []models.Message]) {
	l.conversations = omap.New[models.ConversationKey, []models.Message]()
	if conversations == nil {
		return
	}
	conversations.ForEach(func(key models.ConversationKey, entries []models.Message) bool {
		copied := make([]models.Message, len(entries))
		copy(copied, entries)
		l.conversations.Set(key, copied)
		return true
	})
}
