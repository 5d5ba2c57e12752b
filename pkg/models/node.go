package models

import (
	"bytes"
	"fmt"
	"time"
)

// NodeID is the stable numeric identifier of a mesh peer.
type NodeID uint32

// String renders the ID in the conventional bang-hex form used on the mesh.
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// TrustErrorKind marks why a node record is flagged as untrusted.
type TrustErrorKind string

const (
	TrustErrorNone        TrustErrorKind = ""
	TrustErrorMismatchPKI TrustErrorKind = "MISMATCH_PKI"
)

// NodeUser is the identity sub-record of a node.
type NodeUser struct {
	LongName   string `json:"longName,omitempty"`
	ShortName  string `json:"shortName,omitempty"`
	PublicKey  []byte `json:"publicKey,omitempty"`
	HwModel    string `json:"hwModel,omitempty"`
	IsLicensed bool   `json:"isLicensed,omitempty"`
}

// Position is the last-known location sub-record. Coordinates are
// fixed-point 1e-7 degree integers as reported by the radio.
type Position struct {
	LatitudeI     int32     `json:"latitudeI,omitempty"`
	LongitudeI    int32     `json:"longitudeI,omitempty"`
	Altitude      int32     `json:"altitude,omitempty"`
	PrecisionBits uint32    `json:"precisionBits,omitempty"`
	Time          time.Time `json:"time,omitzero"`
}

// DeviceMetrics is the telemetry sub-record of a node.
type DeviceMetrics struct {
	BatteryLevel       uint32    `json:"batteryLevel,omitempty"`
	Voltage            float32   `json:"voltage,omitempty"`
	ChannelUtilization float32   `json:"channelUtilization,omitempty"`
	AirUtilTx          float32   `json:"airUtilTx,omitempty"`
	Time               time.Time `json:"time,omitzero"`
}

// NodeRecord is the canonical per-peer aggregate. Records are only ever
// replaced wholesale by the merge engine; nothing mutates one in place.
type NodeRecord struct {
	Num        NodeID         `json:"num"`
	User       NodeUser       `json:"user"`
	Position   Position       `json:"position"`
	Metrics    DeviceMetrics  `json:"metrics"`
	SNR        float32        `json:"snr,omitempty"`
	RSSI       int32          `json:"rssi,omitempty"`
	LastHeard  time.Time      `json:"lastHeard,omitzero"`
	TrustError TrustErrorKind `json:"trustError,omitempty"`
}

// Clone returns a deep copy of the record.
func (r NodeRecord) Clone() NodeRecord {
	out := r
	if r.User.PublicKey != nil {
		out.User.PublicKey = bytes.Clone(r.User.PublicKey)
	}
	return out
}

// HasIdentityKey reports whether the record carries a non-empty identity key.
func (r NodeRecord) HasIdentityKey() bool {
	return len(r.User.PublicKey) > 0
}
