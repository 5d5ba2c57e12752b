package models

import "errors"

// Sentinel errors surfaced to callers of explicit user actions. Inbound
// merge and log paths never return these; partial mesh data is expected,
// not exceptional, and is flagged on the record instead.
var (
	// ErrApplyFailed means the transport rejected or timed out an outbound
	// command. Draft state is always preserved when this is returned.
	ErrApplyFailed = errors.New("apply rejected by transport")

	// ErrDeviceNotFound means no device aggregate exists for the given id.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDraft means a commit/apply was requested for a section without
	// a working value.
	ErrNoDraft = errors.New("no working draft for section")

	// ErrUnknownSection means the named config section has no schema.
	ErrUnknownSection = errors.New("unknown config section")

	// ErrNotConnected means an outbound command was attempted on a device
	// with no transport attached.
	ErrNotConnected = errors.New("device has no active transport")
)
