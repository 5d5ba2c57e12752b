package models

import "time"

// NodeUpdate is a partial update to a node record. A nil sub-record or field
// pointer means the sender made no claim about it; the merge engine never
// clears an existing value for an absent field.
type NodeUpdate struct {
	Num       NodeID          `json:"num"`
	User      *UserUpdate     `json:"user,omitempty"`
	Position  *PositionUpdate `json:"position,omitempty"`
	Metrics   *MetricsUpdate  `json:"metrics,omitempty"`
	SNR       *float32        `json:"snr,omitempty"`
	RSSI      *int32          `json:"rssi,omitempty"`
	LastHeard *time.Time      `json:"lastHeard,omitempty"`
}

// UserUpdate is a partial identity sub-record. PublicKey nil means no key
// claim is being made; a non-empty key is subject to the trust gate.
type UserUpdate struct {
	LongName   *string `json:"longName,omitempty"`
	ShortName  *string `json:"shortName,omitempty"`
	PublicKey  []byte  `json:"publicKey,omitempty"`
	HwModel    *string `json:"hwModel,omitempty"`
	IsLicensed *bool   `json:"isLicensed,omitempty"`
}

// PositionUpdate is a partial position sub-record.
type PositionUpdate struct {
	LatitudeI     *int32     `json:"latitudeI,omitempty"`
	LongitudeI    *int32     `json:"longitudeI,omitempty"`
	Altitude      *int32     `json:"altitude,omitempty"`
	PrecisionBits *uint32    `json:"precisionBits,omitempty"`
	Time          *time.Time `json:"time,omitempty"`
}

// MetricsUpdate is a partial telemetry sub-record.
type MetricsUpdate struct {
	BatteryLevel       *uint32    `json:"batteryLevel,omitempty"`
	Voltage            *float32   `json:"voltage,omitempty"`
	ChannelUtilization *float32   `json:"channelUtilization,omitempty"`
	AirUtilTx          *float32   `json:"airUtilTx,omitempty"`
	Time               *time.Time `json:"time,omitempty"`
}
