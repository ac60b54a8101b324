package platform

import (
	"errors"
	"testing"
)

func testMapping() Mapping {
	return NewMapping([]Descriptor{
		{Platform: "x86_64", Architecture: "amd64"},
		{Platform: "aarch64", Architecture: "arm64"},
		{Platform: "ppc64le", Architecture: "ppc64le"},
	})
}

func TestMappingLookups(t *testing.T) {
	t.Parallel()

	m := testMapping()

	arch, err := m.Architecture("x86_64")
	if err != nil {
		t.Fatalf("Architecture(x86_64) returned error: %v", err)
	}
	if arch != "amd64" {
		t.Errorf("Architecture(x86_64) = %q, want %q", arch, "amd64")
	}

	platform, err := m.Platform("arm64")
	if err != nil {
		t.Fatalf("Platform(arm64) returned error: %v", err)
	}
	if platform != "aarch64" {
		t.Errorf("Platform(arm64) = %q, want %q", platform, "aarch64")
	}
}

func TestMappingUnmapped(t *testing.T) {
	t.Parallel()

	m := testMapping()

	_, err := m.Architecture("sparc64")
	var unmapped *UnmappedError
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedError, got %T: %v", err, err)
	}
	if unmapped.Kind != "platform" || unmapped.Key != "sparc64" {
		t.Errorf("UnmappedError = %+v", unmapped)
	}

	_, err = m.Platform("mips64")
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedError, got %T: %v", err, err)
	}
	if unmapped.Kind != "architecture" {
		t.Errorf("Kind = %q, want %q", unmapped.Kind, "architecture")
	}
}

func TestMappingLaterDescriptorWins(t *testing.T) {
	t.Parallel()

	m := NewMapping([]Descriptor{
		{Platform: "x86_64", Architecture: "amd64"},
		{Platform: "x86_64", Architecture: "x86-64"},
	})
	arch, err := m.Architecture("x86_64")
	if err != nil {
		t.Fatalf("Architecture returned error: %v", err)
	}
	if arch != "x86-64" {
		t.Errorf("Architecture(x86_64) = %q, want the later descriptor", arch)
	}
}

func TestZeroMapping(t *testing.T) {
	t.Parallel()

	var m Mapping
	if !m.IsZero() {
		t.Error("zero Mapping should report IsZero")
	}
	if testMapping().IsZero() {
		t.Error("populated Mapping should not report IsZero")
	}
	if _, err := m.Architecture("x86_64"); err == nil {
		t.Error("zero Mapping lookup should fail")
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	// Whatever the host is, Current must return a machine name, never a
	// bare Go architecture for the translated ones.
	got := Current()
	if got == "" {
		t.Fatal("Current() returned empty string")
	}
	switch got {
	case "amd64", "arm64", "386":
		t.Errorf("Current() = %q, want a machine name", got)
	}
}
