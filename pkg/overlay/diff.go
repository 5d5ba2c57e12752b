package overlay

// DiffMode selects how forgiving the structural comparison is about
// omissions in a draft.
type DiffMode int

const (
	// Permissive treats trailing array omissions and explicit nil values
	// in a draft as "no opinion" rather than as changes.
	Permissive DiffMode = iota
	// Strict counts any shape mismatch as a difference.
	Strict
)

// metaKey is the type-tag the device attaches to confirmed section values.
// It never appears in drafts and is ignored when only the committed side
// carries it.
const metaKey = "$kind"

// Equal reports whether committed and working are structurally equal under
// the given mode. Both values are JSON-shaped: maps, slices, primitives.
func Equal(committed, working any, mode DiffMode) bool {
	switch w := working.(type) {
	case map[string]any:
		c, ok := committed.(map[string]any)
		if !ok {
			return false
		}
		return mapsEqual(c, w, mode)
	case []any:
		c, ok := committed.([]any)
		if !ok {
			return false
		}
		return slicesEqual(c, w, mode)
	default:
		return scalarEqual(committed, working)
	}
}

func mapsEqual(committed, working map[string]any, mode DiffMode) bool {
	for key, wv := range working {
		cv, inCommitted := committed[key]
		if wv == nil {
			// Explicit unset: under the permissive policy it matches a
			// missing or default committed value.
			if mode == Permissive {
				if !inCommitted || isDefault(cv) {
					continue
				}
				return false
			}
			if !inCommitted || cv != nil {
				return false
			}
			continue
		}
		if !inCommitted {
			// Drafts may only narrow or modify existing shape.
			return false
		}
		if !Equal(cv, wv, mode) {
			return false
		}
	}
	for key := range committed {
		if key == metaKey {
			continue
		}
		if _, inWorking := working[key]; inWorking {
			continue
		}
		// A committed key the draft omits is unchanged, unless strict.
		if mode == Strict {
			return false
		}
	}
	return true
}

func slicesEqual(committed, working []any, mode DiffMode) bool {
	if len(working) > len(committed) {
		return false
	}
	if mode == Strict && len(working) != len(committed) {
		return false
	}
	// Permissive: a shorter working array holds no opinion about the
	// trailing committed elements.
	for i := range working {
		if !Equal(committed[i], working[i], mode) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

// asFloat normalizes numeric primitives so that a decoded draft's float64
// compares equal to a typed committed integer.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func isDefault(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		if f, ok := asFloat(v); ok {
			return f == 0
		}
	}
	return false
}
