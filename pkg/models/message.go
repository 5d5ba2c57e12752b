package models

import (
	"fmt"
	"time"
)

// AckState tracks delivery acknowledgment of an outbound message.
type AckState string

const (
	AckPending      AckState = "pending"
	AckAcknowledged AckState = "acknowledged"
	AckFailed       AckState = "failed"
)

// CanTransitionTo reports whether moving to next is a forward transition.
// Ack state only ever moves pending -> acknowledged or pending -> failed.
func (s AckState) CanTransitionTo(next AckState) bool {
	if s == next {
		return false
	}
	return s == AckPending && (next == AckAcknowledged || next == AckFailed)
}

// ConversationKey identifies a chat conversation: either a channel number
// or a direct-message peer.
type ConversationKey string

// ChannelConversation returns the key for a broadcast channel.
func ChannelConversation(ch uint32) ConversationKey {
	return ConversationKey(fmt.Sprintf("ch/%d", ch))
}

// DirectConversation returns the key for a direct exchange with a peer.
func DirectConversation(node NodeID) ConversationKey {
	return ConversationKey("dm/" + node.String())
}

// Message is one entry in a conversation's log.
type Message struct {
	CorrelationID string          `json:"correlationId"`
	Conversation  ConversationKey `json:"conversation"`
	From          NodeID          `json:"from"`
	Payload       string          `json:"payload"`
	Outgoing      bool            `json:"outgoing,omitempty"`
	AckRequested  bool            `json:"ackRequested,omitempty"`
	AckState      AckState        `json:"ackState,omitempty"`
	RxTime        time.Time       `json:"rxTime,omitzero"`
}
