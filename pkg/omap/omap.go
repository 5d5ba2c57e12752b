// Package omap provides an insertion-ordered map whose JSON form is tagged
// with the key kind, so that both iteration order and key typing survive a
// round trip through flat storage.
package omap

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Key constrains map keys to the kinds the wire format can restore:
// strings (including named string types) and integers.
type Key interface {
	comparable
}

// OrderedMap is a map that remembers insertion order. Setting an existing
// key updates the value in place without moving the key.
type OrderedMap[K Key, V any] struct {
	keys []K
	vals map[K]V
}

// New returns an empty ordered map.
func New[K Key, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{vals: make(map[K]V)}
}

// Len returns the number of entries.
func (m *OrderedMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	if m == nil || m.vals == nil {
		var zero V
		return zero, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Set inserts or replaces the value for key.
func (m *OrderedMap[K, V]) Set(key K, val V) {
	if m.vals == nil {
		m.vals = make(map[K]V)
	}
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

// Delete removes key if present.
func (m *OrderedMap[K, V]) Delete(key K) {
	if m == nil || m.vals == nil {
		return
	}
	if _, exists := m.vals[key]; !exists {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K {
	if m == nil {
		return nil
	}
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// ForEach visits entries in insertion order until fn returns false.
func (m *OrderedMap[K, V]) ForEach(fn func(key K, val V) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

const (
	kindString = "str"
	kindNumber = "num"
)

type wireMap struct {
	Kind    string               `json:"$omap"`
	Entries [][2]json.RawMessage `json:"entries"`
}

func keyKind[K Key]() (string, error) {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.String:
		return kindString, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return kindNumber, nil
	default:
		return "", fmt.Errorf("omap: unsupported key type %s", reflect.TypeFor[K]())
	}
}

// MarshalJSON encodes the map as a kind-tagged entry list.
func (m *OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	kind, err := keyKind[K]()
	if err != nil {
		return nil, err
	}
	wire := wireMap{Kind: kind, Entries: make([][2]json.RawMessage, 0, m.Len())}
	for _, k := range m.keys {
		rawKey, err := marshalKey(k, kind)
		if err != nil {
			return nil, err
		}
		rawVal, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		wire.Entries = append(wire.Entries, [2]json.RawMessage{rawKey, rawVal})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores entries in their serialized order.
func (m *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	kind, err := keyKind[K]()
	if err != nil {
		return err
	}
	var wire wireMap
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Kind != kind {
		return fmt.Errorf("omap: key kind mismatch: stored %q, want %q", wire.Kind, kind)
	}
	m.keys = m.keys[:0]
	m.vals = make(map[K]V, len(wire.Entries))
	for _, entry := range wire.Entries {
		key, err := unmarshalKey[K](entry[0], kind)
		if err != nil {
			return err
		}
		var val V
		if err := json.Unmarshal(entry[1], &val); err != nil {
			return err
		}
		m.Set(key, val)
	}
	return nil
}

func marshalKey[K Key](key K, kind string) (json.RawMessage, error) {
	rv := reflect.ValueOf(key)
	switch kind {
	case kindString:
		return json.Marshal(rv.String())
	case kindNumber:
		if rv.CanUint() {
			return json.RawMessage(strconv.FormatUint(rv.Uint(), 10)), nil
		}
		return json.RawMessage(strconv.FormatInt(rv.Int(), 10)), nil
	}
	return nil, fmt.Errorf("omap: unsupported key kind %q", kind)
}

func unmarshalKey[K Key](raw json.RawMessage, kind string) (K, error) {
	var zero K
	rv := reflect.New(reflect.TypeFor[K]()).Elem()
	switch kind {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return zero, err
		}
		rv.SetString(s)
	case kindNumber:
		if rv.CanUint() {
			u, err := strconv.ParseUint(string(raw), 10, 64)
			if err != nil {
				return zero, fmt.Errorf("omap: parsing numeric key %q: %w", raw, err)
			}
			rv.SetUint(u)
		} else {
			i, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return zero, fmt.Errorf("omap: parsing numeric key %q: %w", raw, err)
			}
			rv.SetInt(i)
		}
	default:
		return zero, fmt.Errorf("omap: unsupported key kind %q", kind)
	}
	return rv.Interface().(K), nil
}
