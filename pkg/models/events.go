package models

import "time"

// ConnectionPhase is the transport-reported lifecycle phase of a device
// link. The state engine records it but never drives retries itself.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConfiguring  ConnectionPhase = "configuring"
	PhaseConnected    ConnectionPhase = "connected"
	PhaseReconnecting ConnectionPhase = "reconnecting"
)

var phaseTransitions = map[ConnectionPhase][]ConnectionPhase{
	PhaseDisconnected: {PhaseConnecting},
	PhaseConnecting:   {PhaseConfiguring, PhaseDisconnected},
	PhaseConfiguring:  {PhaseConnected, PhaseDisconnected, PhaseReconnecting},
	PhaseConnected:    {PhaseReconnecting, PhaseDisconnected},
	PhaseReconnecting: {PhaseConfiguring, PhaseDisconnected},
}

// CanTransitionTo reports whether next is an expected phase change.
// Unexpected transitions are still applied, just logged.
func (p ConnectionPhase) CanTransitionTo(next ConnectionPhase) bool {
	for _, n := range phaseTransitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// Event is a decoded protocol event delivered by a transport collaborator.
// Exactly one concrete variant arrives per delivery; transports guarantee
// in-order delivery per device but not dedup or exactly-once.
type Event interface {
	isEvent()
}

// NodeInfoEvent carries an identity delta for a peer.
type NodeInfoEvent struct {
	Update NodeUpdate
}

// PositionEvent carries a position delta for a peer.
type PositionEvent struct {
	Update NodeUpdate
}

// MetricsEvent carries a telemetry delta for a peer.
type MetricsEvent struct {
	Update NodeUpdate
}

// TextMessageEvent carries an inbound chat or telemetry text message.
type TextMessageEvent struct {
	Message Message
}

// DeliveryReceiptEvent reports the fate of a previously sent message.
type DeliveryReceiptEvent struct {
	CorrelationID string    `json:"correlationId"`
	Success       bool      `json:"success"`
	RxTime        time.Time `json:"rxTime,omitzero"`
}

// ConfigConfirmEvent is the device confirming a config section value. It is
// the only thing that ever replaces a section's committed value.
type ConfigConfirmEvent struct {
	Section string         `json:"section"`
	Value   map[string]any `json:"value"`
}

// PhaseChangeEvent reports a connection lifecycle change.
type PhaseChangeEvent struct {
	Phase ConnectionPhase `json:"phase"`
	Time  time.Time       `json:"time,omitzero"`
}

func (NodeInfoEvent) isEvent()        {}
func (PositionEvent) isEvent()        {}
func (MetricsEvent) isEvent()         {}
func (TextMessageEvent) isEvent()     {}
func (DeliveryReceiptEvent) isEvent() {}
func (ConfigConfirmEvent) isEvent()   {}
func (PhaseChangeEvent) isEvent()     {}
