package version

import "testing"

func TestDefaultIsZeroValue(t *testing.T) {
	var v V[int]
	if !v.IsDefault() {
		t.Fatalf("zero value V[int] should be default")
	}
	if v.Value != 0 || v.Version != 0 {
		t.Fatalf("unexpected zero value: %+v", v)
	}
}

func TestNewValueIncrementsVersion(t *testing.T) {
	v := NewValue(0, "a")
	if v.IsDefault() {
		t.Fatalf("version 1 should not be default")
	}
	if v.Version != 1 || v.Value != "a" {
		t.Fatalf("unexpected value: %+v", v)
	}

	v2 := NewValue(v.Version, "b")
	if v2.Version != 2 {
		t.Fatalf("expected version 2, got %d", v2.Version)
	}
}

func TestSwapTypeCarriesVersion(t *testing.T) {
	v := NewValue(int32(4), 10)
	swapped := SwapType(v, "ten")
	if swapped.Version != v.Version {
		t.Fatalf("expected version %d, got %d", v.Version, swapped.Version)
	}
	if swapped.Value != "ten" {
		t.Fatalf("unexpected swapped value: %q", swapped.Value)
	}
}
