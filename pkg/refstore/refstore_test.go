package refstore

import (
	"testing"

	"github.com/lucent-dataflow/pathway/pkg/ref"
)

func TestAssignAndLookup(t *testing.T) {
	s := New[string]()
	r := ref.New()

	if _, ok := s.Lookup(r); ok {
		t.Fatalf("expected no path assigned yet")
	}

	if err := s.Assign(r, "path-a", false); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	p, ok := s.Lookup(r)
	if !ok || p != "path-a" {
		t.Fatalf("expected path-a, got %q ok=%v", p, ok)
	}
}

func TestAssignTwiceIsUsageViolation(t *testing.T) {
	s := New[string]()
	r := ref.New()

	if err := s.Assign(r, "path-a", false); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := s.Assign(r, "path-b", false); err == nil {
		t.Fatalf("expected a usage violation re-assigning a ref")
	}
}

func TestDeleteFreesRefForReassignment(t *testing.T) {
	s := New[string]()
	r := ref.New()

	if err := s.Assign(r, "path-a", false); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	s.Delete(r)

	if _, ok := s.Lookup(r); ok {
		t.Fatalf("expected lookup to miss after delete")
	}
	if err := s.Assign(r, "path-b", false); err != nil {
		t.Fatalf("Assign after delete: %v", err)
	}
	p, ok := s.Lookup(r)
	if !ok || p != "path-b" {
		t.Fatalf("expected path-b, got %q ok=%v", p, ok)
	}
}
