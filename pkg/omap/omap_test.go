package omap

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	m := New[uint32, string]()
	m.Set(30, "c")
	m.Set(10, "a")
	m.Set(20, "b")
	// Updating an existing key keeps its position.
	m.Set(30, "c2")

	want := []uint32{30, 10, 20}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := m.Get(30); v != "c2" {
		t.Errorf("Get(30) = %q, want c2", v)
	}
}

func TestDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	m.Delete("b")
	m.Delete("missing")

	if got := m.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
	if _, ok := m.Get("b"); ok {
		t.Error("deleted key still present")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestJSONRoundTripNumericKeys(t *testing.T) {
	m := New[uint32, string]()
	m.Set(4042674096, "high bit set")
	m.Set(42, "answer")
	m.Set(7, "lucky")

	blob, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	restored := New[uint32, string]()
	if err := json.Unmarshal(blob, restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !reflect.DeepEqual(m, restored) {
		t.Errorf("round trip mismatch:\nin  = %v %v\nout = %v %v", m.Keys(), blob, restored.Keys(), restored)
	}
	if got := restored.Keys(); !reflect.DeepEqual(got, []uint32{4042674096, 42, 7}) {
		t.Errorf("restored key order = %v", got)
	}
}

func TestJSONRoundTripStringKeys(t *testing.T) {
	type convKey string
	m := New[convKey, []int]()
	m.Set("ch/0", []int{1, 2})
	m.Set("dm/!a1b2c3d4", []int{3})

	blob, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	restored := New[convKey, []int]()
	if err := json.Unmarshal(blob, restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(m, restored) {
		t.Errorf("round trip mismatch: %v vs %v", m, restored)
	}
}

func TestJSONRoundTripEmptyAndSingle(t *testing.T) {
	empty := New[uint32, string]()
	blob, err := json.Marshal(empty)
	if err != nil {
		t.Fatalf("Marshal(empty) error = %v", err)
	}
	restoredEmpty := New[uint32, string]()
	if err := json.Unmarshal(blob, restoredEmpty); err != nil {
		t.Fatalf("Unmarshal(empty) error = %v", err)
	}
	if restoredEmpty.Len() != 0 {
		t.Errorf("restored empty map has %d entries", restoredEmpty.Len())
	}

	single := New[uint32, string]()
	single.Set(1, "only")
	blob, err = json.Marshal(single)
	if err != nil {
		t.Fatalf("Marshal(single) error = %v", err)
	}
	restoredSingle := New[uint32, string]()
	if err := json.Unmarshal(blob, restoredSingle); err != nil {
		t.Fatalf("Unmarshal(single) error = %v", err)
	}
	if v, ok := restoredSingle.Get(1); !ok || v != "only" {
		t.Errorf("Get(1) = %q, %v", v, ok)
	}
}

func TestUnmarshalRejectsKindMismatch(t *testing.T) {
	m := New[string, int]()
	m.Set("k", 1)
	blob, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	numeric := New[uint32, int]()
	if err := json.Unmarshal(blob, numeric); err == nil {
		t.Error("string-keyed blob should not unmarshal into numeric-keyed map")
	}
}

func TestForEachEarlyStop(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	visited := 0
	m.ForEach(func(_ string, _ int) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("visited %d entries, want 2", visited)
	}
}

func TestNilReceiverReads(t *testing.T) {
	var m *OrderedMap[string, int]
	if m.Len() != 0 {
		t.Error("nil map should have zero length")
	}
	if _, ok := m.Get("x"); ok {
		t.Error("nil map should have no entries")
	}
}
