// Package transport defines the boundary between the state engine and the
// per-device link implementations (BLE, serial, HTTP polling, MQTT bridge).
// Implementations decode protocol traffic into models.Event values; the
// engine never sees raw radio bytes.
package transport

import (
	"context"

	"github.com/mvickers/meshdeck/pkg/models"
)

// Transport is one device's decoded-event stream plus its outbound-command
// surface. Events are delivered in arrival order; delivery may include
// duplicates and replays, which the engine handles idempotently.
//
// Retry and backoff live behind this interface, not in front of it: a
// returned error is final from the engine's point of view.
type Transport interface {
	// Events is the inbound decoded-event stream. The channel is closed
	// when the link shuts down for good.
	Events() <-chan models.Event

	// SendText submits a text message. The correlation id is generated by
	// the caller and echoed back in the delivery receipt.
	SendText(ctx context.Context, conversation models.ConversationKey, payload string, ackRequested bool, correlationID string) error

	// ApplyConfig pushes a config section value to the device. The device
	// answers with a ConfigConfirmEvent; only that confirmation commits.
	ApplyConfig(ctx context.Context, section string, value map[string]any) error

	// RequestPosition asks a peer for a fresh position broadcast.
	RequestPosition(ctx context.Context, node models.NodeID) error

	Close() error
}
