// Package refstore provides one concrete Ref<->path lookup table. The
// reference/id store is an external collaborator, not part of the
// engine's hard core; this is a single reference implementation, not a
// requirement every pathway user must use.
//
// It is grounded on joeycumines-go-utilpkg/catrate's sync.Map +
// per-category-atomic idiom (categoryData guarded by its own atomic word
// rather than a single store-wide lock), generalized from "one rate window
// per category" to "one path per Ref".
//
// © 2025 pathway authors. MIT License.
package refstore

import (
	"sync"
	"sync/atomic"

	"github.com/lucent-dataflow/pathway/pkg/ref"
	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// entry guards a single Ref slot. gone flips true exactly once, ahead of a
// Delete, so a racing Lookup never observes a half-removed mapping — a
// tombstone distinct from (and cheaper to check than) removing the map key
// outright.
type entry[P any] struct {
	gone atomic.Bool
	path P
}

// Store is a CAS-guarded Ref -> path table. It does not own the lifecycle of
// the paths it names; Delete merely forgets the mapping.
type Store[P any] struct {
	m sync.Map // ref.Ref -> *entry[P]
}

// New constructs an empty Store.
func New[P any]() *Store[P] {
	return &Store[P]{}
}

// Assign pairs r with p. Returns a UsageError if r is already assigned —
// the pairing is injective, re-assigning is a usage error, not an update.
func (s *Store[P]) Assign(r ref.Ref, p P, debug bool) error {
	e := &entry[P]{path: p}
	if _, loaded := s.m.LoadOrStore(r, e); loaded {
		return errs.NewUsageViolation("refstore: ref already assigned", debug)
	}
	return nil
}

// Lookup returns the path assigned to r, or ok=false if none has been
// assigned (or it was deleted).
func (s *Store[P]) Lookup(r ref.Ref) (p P, ok bool) {
	v, found := s.m.Load(r)
	if !found {
		return p, false
	}
	e := v.(*entry[P])
	if e.gone.Load() {
		return p, false
	}
	return e.path, true
}

// Delete forgets the mapping for r, freeing it for reassignment.
func (s *Store[P]) Delete(r ref.Ref) {
	if v, ok := s.m.Load(r); ok {
		v.(*entry[P]).gone.Store(true)
	}
	s.m.Delete(r)
}
