// Package ref supplies an opaque, UUID-backed identifier uniquely naming
// a path, independent of process layout. Grounded on
// ipiton-alert-history-service's use of github.com/google/uuid for
// opaque entity identifiers.
//
// © 2025 pathway authors. MIT License.
package ref

import "github.com/google/uuid"

// Ref is an opaque identifier naming a path. Two Refs are equal iff they
// name the same path; Ref carries no other semantics.
type Ref struct {
	id uuid.UUID
}

// New mints a fresh, globally unique Ref.
func New() Ref {
	return Ref{id: uuid.New()}
}

// Parse decodes a Ref from its canonical string form. An error is returned
// if s is not a valid UUID.
func Parse(s string) (Ref, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Ref{}, err
	}
	return Ref{id: id}, nil
}

// IsZero reports whether r is the unset Ref value.
func (r Ref) IsZero() bool { return r.id == uuid.Nil }

func (r Ref) String() string { return r.id.String() }
