// Package merge implements field-level merging of partial node updates into
// canonical node records.
package merge

import (
	"bytes"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/trust"
)

// Merge folds a partial update into a node record and returns the result.
// Neither input is mutated; the caller replaces its stored record with the
// returned one in a single step. A nil existing record is treated as a
// first sighting of the node.
//
// Identity updates pass through the trust gate. On rejection the entire
// identity sub-record of the update is discarded, not just the key, so a
// spoofed event cannot land a partially trusted identity. Position and
// metrics from the same update still merge, since they carry no identity.
func Merge(existing *models.NodeRecord, incoming models.NodeUpdate) models.NodeRecord {
	var out models.NodeRecord
	if existing != nil {
		out = existing.Clone()
	}
	out.Num = incoming.Num

	if incoming.User != nil {
		switch trust.EvaluateKey(out.User.PublicKey, incoming.User.PublicKey) {
		case trust.Reject:
			out.TrustError = models.TrustErrorMismatchPKI
		default:
			mergeUser(&out.User, incoming.User)
		}
	}
	if incoming.Position != nil {
		mergePosition(&out.Position, incoming.Position)
	}
	if incoming.Metrics != nil {
		mergeMetrics(&out.Metrics, incoming.Metrics)
	}
	if incoming.SNR != nil {
		out.SNR = *incoming.SNR
	}
	if incoming.RSSI != nil {
		out.RSSI = *incoming.RSSI
	}
	if incoming.LastHeard != nil && incoming.LastHeard.After(out.LastHeard) {
		out.LastHeard = *incoming.LastHeard
	}
	return out
}

func mergeUser(dst *models.NodeUser, in *models.UserUpdate) {
	if in.LongName != nil {
		dst.LongName = *in.LongName
	}
	if in.ShortName != nil {
		dst.ShortName = *in.ShortName
	}
	if len(in.PublicKey) > 0 {
		dst.PublicKey = bytes.Clone(in.PublicKey)
	}
	if in.HwModel != nil {
		dst.HwModel = *in.HwModel
	}
	if in.IsLicensed != nil {
		dst.IsLicensed = *in.IsLicensed
	}
}

func mergePosition(dst *models.Position, in *models.PositionUpdate) {
	if in.LatitudeI != nil {
		dst.LatitudeI = *in.LatitudeI
	}
	if in.LongitudeI != nil {
		dst.LongitudeI = *in.LongitudeI
	}
	if in.Altitude != nil {
		dst.Altitude = *in.Altitude
	}
	if in.PrecisionBits != nil {
		dst.PrecisionBits = *in.PrecisionBits
	}
	if in.Time != nil {
		dst.Time = *in.Time
	}
}

func mergeMetrics(dst *models.DeviceMetrics, in *models.MetricsUpdate) {
	if in.BatteryLevel != nil {
		dst.BatteryLevel = *in.BatteryLevel
	}
	if in.Voltage != nil {
		dst.Voltage = *in.Voltage
	}
	if in.ChannelUtilization != nil {
		dst.ChannelUtilization = *in.ChannelUtilization
	}
	if in.AirUtilTx != nil {
		dst.AirUtilTx = *in.AirUtilTx
	}
	if in.Time != nil {
		dst.Time = *in.Time
	}
}
