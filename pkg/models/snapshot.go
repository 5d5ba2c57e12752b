package models

import (
	"time"

	"github.com/mvickers/meshdeck/pkg/omap"
)

// SectionState is the persisted shape of one config section: the value the
// device last confirmed, plus any in-progress draft.
type SectionState struct {
	Committed map[string]any `json:"committed,omitempty"`
	Working   map[string]any `json:"working,omitempty"`
}

// DeviceSnapshot is the serializable form of a device aggregate. Node and
// conversation collections are ordered maps so a save/load cycle restores
// them exactly as they were.
type DeviceSnapshot struct {
	DeviceID       string                                       `json:"deviceId"`
	Name           string                                       `json:"name,omitempty"`
	Phase          ConnectionPhase                              `json:"phase,omitempty"`
	PhaseChangedAt time.Time                                    `json:"phaseChangedAt,omitzero"`
	Nodes          *omap.OrderedMap[NodeID, NodeRecord]         `json:"nodes,omitempty"`
	Conversations  *omap.OrderedMap[ConversationKey, []Message] `json:"conversations,omitempty"`
	Sections       *omap.OrderedMap[string, SectionState]       `json:"sections,omitempty"`
}
