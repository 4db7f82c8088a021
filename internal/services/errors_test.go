package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := fmt.Errorf("boom")
	err := Wrap(ErrTransient, "publisher", "publish", "redis unavailable", base)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "resolver", "lookup", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
}

func TestFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"integrity", Wrap(ErrIntegrity, "catalog", "promote", "dangling reference", nil), true},
		{"configuration", Wrap(ErrConfiguration, "config", "load", "", nil), true},
		{"transient", Wrap(ErrTransient, "publisher", "publish", "", nil), false},
		{"validation", Wrap(ErrValidation, "resolver", "resolve", "", nil), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := Fatal(tc.err); got != tc.want {
			t.Fatalf("%s: Fatal = %v, want %v", tc.name, got, tc.want)
		}
	}
}
