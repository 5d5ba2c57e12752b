package overlay

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mvickers/meshdeck/pkg/models"
)

func TestCommitClearsDraftAndDirtiness(t *testing.T) {
	o := New(Permissive)
	o.Commit("bluetooth", map[string]any{"enabled": false})

	if err := o.SetWorking("bluetooth", map[string]any{"enabled": true}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}
	if !o.IsDirty("bluetooth") {
		t.Error("section should be dirty after a differing draft")
	}

	// Device confirms the new value.
	o.Commit("bluetooth", map[string]any{"enabled": true})

	committed, ok := o.Committed("bluetooth")
	if !ok || committed["enabled"] != true {
		t.Errorf("Committed() = %v, %v", committed, ok)
	}
	if _, ok := o.Working("bluetooth"); ok {
		t.Error("draft should be cleared by commit")
	}
	if o.IsDirty("bluetooth") {
		t.Error("section should be clean after commit")
	}
}

func TestCommitIdempotent(t *testing.T) {
	o := New(Permissive)
	value := map[string]any{"enabled": true}
	o.Commit("bluetooth", value)
	o.Commit("bluetooth", value)

	committed, _ := o.Committed("bluetooth")
	if !reflect.DeepEqual(committed, value) {
		t.Errorf("Committed() = %v, want %v", committed, value)
	}
	if o.IsDirty("bluetooth") {
		t.Error("double commit should leave section clean")
	}
}

func TestDiscardWorkingKeepsCommitted(t *testing.T) {
	o := New(Permissive)
	o.Commit("display", map[string]any{"units": "metric"})
	if err := o.SetWorking("display", map[string]any{"units": "imperial"}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}

	o.DiscardWorking("display")

	if o.IsDirty("display") {
		t.Error("discarded section should be clean")
	}
	committed, _ := o.Committed("display")
	if committed["units"] != "metric" {
		t.Errorf("committed value touched by discard: %v", committed)
	}
}

func TestMatchingDraftIsNotDirty(t *testing.T) {
	o := New(Permissive)
	o.Commit("bluetooth", map[string]any{"enabled": true, "mode": "RANDOM_PIN"})
	if err := o.SetWorking("bluetooth", map[string]any{"enabled": true, "mode": "RANDOM_PIN"}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}
	if o.IsDirty("bluetooth") {
		t.Error("structurally equal draft should not be dirty")
	}
}

func TestSetWorkingRejectsUnknownSection(t *testing.T) {
	o := New(Permissive)
	err := o.SetWorking("warp-drive", map[string]any{"enabled": true})
	if !errors.Is(err, models.ErrUnknownSection) {
		t.Errorf("SetWorking() error = %v, want ErrUnknownSection", err)
	}
}

func TestSetWorkingRejectsInvalidDraft(t *testing.T) {
	o := New(Permissive)
	if err := o.SetWorking("lora", map[string]any{"hopLimit": 12}); err == nil {
		t.Error("SetWorking() should reject hop limit above 7")
	}
	if err := o.SetWorking("bluetooth", map[string]any{"unknownField": 1}); err == nil {
		t.Error("SetWorking() should reject unknown fields")
	}
}

func TestEffectivePrefersWorking(t *testing.T) {
	o := New(Permissive)
	o.Commit("display", map[string]any{"units": "metric"})

	effective, ok := o.Effective("display")
	if !ok || effective["units"] != "metric" {
		t.Fatalf("Effective() = %v, %v", effective, ok)
	}

	if err := o.SetWorking("display", map[string]any{"units": "imperial"}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}
	effective, _ = o.Effective("display")
	if effective["units"] != "imperial" {
		t.Errorf("Effective() = %v, want working value", effective)
	}
}

func TestDirtySections(t *testing.T) {
	o := New(Permissive)
	o.Commit("bluetooth", map[string]any{"enabled": false})
	o.Commit("display", map[string]any{"units": "metric"})
	if err := o.SetWorking("bluetooth", map[string]any{"enabled": true}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}

	got := o.DirtySections()
	if len(got) != 1 || got[0] != "bluetooth" {
		t.Errorf("DirtySections() = %v, want [bluetooth]", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	o := New(Permissive)
	o.Commit("bluetooth", map[string]any{"enabled": true})
	if err := o.SetWorking("display", map[string]any{"units": "imperial"}); err != nil {
		t.Fatalf("SetWorking() error = %v", err)
	}

	restored := New(Permissive)
	restored.Restore(o.Snapshot())

	committed, ok := restored.Committed("bluetooth")
	if !ok || committed["enabled"] != true {
		t.Errorf("restored committed = %v, %v", committed, ok)
	}
	working, ok := restored.Working("display")
	if !ok || working["units"] != "imperial" {
		t.Errorf("restored working = %v, %v", working, ok)
	}
	if !restored.IsDirty("display") {
		t.Error("restored draft should still be dirty")
	}
}
