// Package trust implements the identity key trust policy. It is the single
// point where untrusted network input could corrupt identity trust; do not
// weaken the rule without product sign-off.
package trust

import "bytes"

// Decision is the outcome of evaluating an incoming identity key against
// the stored one.
type Decision int

const (
	// Accept means the incoming key agrees with the stored key.
	Accept Decision = iota
	// AcceptEmpty means the incoming update makes no key claim.
	AcceptEmpty
	// Reject means a non-empty incoming key differs from a non-empty
	// stored key. Key rotation and impersonation are indistinguishable
	// here, so the caller must keep the stored identity and flag the node.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AcceptEmpty:
		return "accept-empty"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// EvaluateKey applies the trust rule to a stored/incoming key pair.
// Either key may be empty (nil or zero-length).
func EvaluateKey(stored, incoming []byte) Decision {
	if len(incoming) == 0 {
		return AcceptEmpty
	}
	if len(stored) == 0 {
		return Accept
	}
	if bytes.Equal(stored, incoming) {
		return Accept
	}
	return Reject
}
