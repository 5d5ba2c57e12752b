// Package overlay maintains committed vs. working configuration values per
// section and computes dirtiness via structural diff.
package overlay

import (
	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/omap"
)

type section struct {
	committed  map[string]any
	working    map[string]any
	hasWorking bool
}

// Overlay tracks draft and device-confirmed config for one device. It is
// not safe for concurrent use; the owning device aggregate serializes
// access through its event loop.
type Overlay struct {
	mode     DiffMode
	sections *omap.OrderedMap[string, *section]
}

// New returns an empty overlay using the given diff mode.
func New(mode DiffMode) *Overlay {
	return &Overlay{mode: mode, sections: omap.New[string, *section]()}
}

func (o *Overlay) section(name string) *section {
	s, ok := o.sections.Get(name)
	if !ok {
		s = &section{}
		o.sections.Set(name, s)
	}
	return s
}

// SetWorking validates a draft against the section schema and stores it.
// Only one draft exists per section; the last writer wins.
func (o *Overlay) SetWorking(name string, value map[string]any) error {
	if _, err := models.DecodeSection(name, stripMeta(value)); err != nil {
		return err
	}
	s := o.section(name)
	s.working = cloneMap(value)
	s.hasWorking = true
	return nil
}

// Working returns the draft for name, if one exists.
func (o *Overlay) Working(name string) (map[string]any, bool) {
	s, ok := o.sections.Get(name)
	if !ok || !s.hasWorking {
		return nil, false
	}
	return cloneMap(s.working), true
}

// Committed returns the device-confirmed value for name, if any.
func (o *Overlay) Committed(name string) (map[string]any, bool) {
	s, ok := o.sections.Get(name)
	if !ok || s.committed == nil {
		return nil, false
	}
	return cloneMap(s.committed), true
}

// Effective returns the working value when a draft exists, else committed.
func (o *Overlay) Effective(name string) (map[string]any, bool) {
	if w, ok := o.Working(name); ok {
		return w, true
	}
	return o.Committed(name)
}

// Commit replaces the committed value with the device-confirmed one and
// clears any draft. This is the only way committed ever changes.
// Committing an identical value twice is a no-op beyond clearing the draft.
func (o *Overlay) Commit(name string, confirmed map[string]any) {
	s := o.section(name)
	s.committed = cloneMap(confirmed)
	s.working = nil
	s.hasWorking = false
}

// DiscardWorking drops the draft without touching committed.
func (o *Overlay) DiscardWorking(name string) {
	s, ok := o.sections.Get(name)
	if !ok {
		return
	}
	s.working = nil
	s.hasWorking = false
}

// IsDirty reports whether the draft differs structurally from committed.
// A section without a draft is never dirty.
func (o *Overlay) IsDirty(name string) bool {
	s, ok := o.sections.Get(name)
	if !ok || !s.hasWorking {
		return false
	}
	committed := s.committed
	if committed == nil {
		committed = map[string]any{}
	}
	return !mapsEqual(committed, s.working, o.mode)
}

// DirtySections lists sections with unsaved drafts, in section order.
func (o *Overlay) DirtySections() []string {
	var out []string
	o.sections.ForEach(func(name string, _ *section) bool {
		if o.IsDirty(name) {
			out = append(out, name)
		}
		return true
	})
	return out
}

// Snapshot exports the overlay for persistence.
func (o *Overlay) Snapshot() *omap.OrderedMap[string, models.SectionState] {
	out := omap.New[string, models.SectionState]()
	o.sections.ForEach(func(name string, s *section) bool {
		state := models.SectionState{Committed: cloneMap(s.committed)}
		if s.hasWorking {
			state.Working = cloneMap(s.working)
			if state.Working == nil {
				state.Working = map[string]any{}
			}
		}
		out.Set(name, state)
		return true
	})
	return out
}

// Restore rebuilds the overlay from a persisted snapshot.
func (o *Overlay) Restore(sections *omap.OrderedMap[string, models.SectionState]) {
	o.sections = omap.New[string, *section]()
	sections.ForEach(func(name string, state models.SectionState) bool {
		o.sections.Set(name, &section{
			committed:  cloneMap(state.Committed),
			working:    cloneMap(state.Working),
			hasWorking: state.Working != nil,
		})
		return true
	})
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// stripMeta removes the device type-tag and explicit unsets before schema
// validation; both are diff concerns, not schema fields.
func stripMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == metaKey || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
