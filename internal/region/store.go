package region

import (
	"slices"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/typeid"
)

// Store owns the region collection of one editing session together with its
// undo/redo history.
//
// The collection slice is never modified in place: every mutation installs a
// freshly allocated slice. A history snapshot is therefore just the previous
// slice value and costs O(1) to take and to restore.
type Store struct {
	regions []Region
	undo    [][]Region
	redo    [][]Region
	newID   func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{newID: typeid.NewRegionID}
}

// Add normalizes and appends a region. Inputs that fail normalization are
// dropped silently and leave the history untouched.
func (s *Store) Add(x, y, w, h float64, eff effect.Effect) (string, bool) {
	if eff == nil {
		return "", false
	}
	nx, ny, nw, nh, ok := Normalize(x, y, w, h)
	if !ok {
		return "", false
	}

	r := Region{
		ID:     s.newID(),
		X:      nx,
		Y:      ny,
		Width:  nw,
		Height: nh,
		Effect: effect.Normalize(eff),
	}
	s.commit(append(s.regions[:len(s.regions):len(s.regions)], r))
	return r.ID, true
}

// Remove deletes the region with the given id. An unknown id still records
// a history step.
func (s *Store) Remove(id string) {
	next := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		if r.ID != id {
			next = append(next, r)
		}
	}
	s.commit(next)
}

// Clear empties the collection and discards the whole history.
func (s *Store) Clear() {
	if len(s.regions) > 0 {
		s.commit(nil)
	}
	s.undo = nil
	s.redo = nil
}

// Replace installs a complete collection as a single undoable step. Regions
// failing normalization are skipped and missing ids are assigned.
func (s *Store) Replace(regions []Region) {
	next := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Effect == nil {
			continue
		}
		nx, ny, nw, nh, ok := Normalize(r.X, r.Y, r.Width, r.Height)
		if !ok {
			continue
		}
		if r.ID == "" {
			r.ID = s.newID()
		}
		r.X, r.Y, r.Width, r.Height = nx, ny, nw, nh
		r.Effect = effect.Normalize(r.Effect)
		next = append(next, r)
	}
	s.commit(next)
}

// Undo restores the previous collection. It reports whether a step was taken.
func (s *Store) Undo() bool {
	if len(s.undo) == 0 {
		return false
	}
	prev := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, s.regions)
	s.regions = prev
	return true
}

// Redo re-applies the last undone step. It reports whether a step was taken.
func (s *Store) Redo() bool {
	if len(s.redo) == 0 {
		return false
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, s.regions)
	s.regions = next
	return true
}

func (s *Store) CanUndo() bool { return len(s.undo) > 0 }
func (s *Store) CanRedo() bool { return len(s.redo) > 0 }

// Len returns the number of committed regions.
func (s *Store) Len() int { return len(s.regions) }

// Regions returns a copy of the collection in application order.
func (s *Store) Regions() []Region {
	return slices.Clone(s.regions)
}

// Get returns the region with the given id.
func (s *Store) Get(id string) (Region, bool) {
	for _, r := range s.regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

func (s *Store) commit(next []Region) {
	s.undo = append(s.undo, s.regions)
	s.redo = nil
	s.regions = next
}
