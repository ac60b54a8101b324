// Package platform translates between logical build platform names
// (x86_64, aarch64) and the architecture strings image manifests carry
// (amd64, arm64). The table is supplied by configuration; both lookup
// directions fail with UnmappedError for names the table does not know.
package platform

import (
	"fmt"

	"github.com/containerd/platforms"
)

// Descriptor pairs a logical platform name with the architecture it
// maps to in image manifests.
type Descriptor struct {
	Platform     string
	Architecture string
}

// Mapping is a bidirectional platform/architecture lookup table built
// from configured platform descriptors.
//
// The zero Mapping reports IsZero and fails every lookup. Callers that
// treat an absent table as a soft condition check IsZero before using
// it.
type Mapping struct {
	arch     map[string]string
	platform map[string]string
}

// NewMapping builds a Mapping from descriptors. Later descriptors win
// when a name repeats.
func NewMapping(descriptors []Descriptor) Mapping {
	if len(descriptors) == 0 {
		return Mapping{}
	}
	m := Mapping{
		arch:     make(map[string]string, len(descriptors)),
		platform: make(map[string]string, len(descriptors)),
	}
	for _, d := range descriptors {
		m.arch[d.Platform] = d.Architecture
		m.platform[d.Architecture] = d.Platform
	}
	return m
}

// IsZero reports whether no descriptors were configured.
func (m Mapping) IsZero() bool { return len(m.arch) == 0 }

// Architecture returns the manifest architecture for a logical platform
// name.
func (m Mapping) Architecture(platform string) (string, error) {
	arch, ok := m.arch[platform]
	if !ok {
		return "", &UnmappedError{Kind: "platform", Key: platform}
	}
	return arch, nil
}

// Platform returns the logical platform name for a manifest
// architecture.
func (m Mapping) Platform(arch string) (string, error) {
	platform, ok := m.platform[arch]
	if !ok {
		return "", &UnmappedError{Kind: "architecture", Key: arch}
	}
	return platform, nil
}

// UnmappedError indicates a platform or architecture the configured
// table has no counterpart for.
type UnmappedError struct {
	Kind string // "platform" or "architecture"
	Key  string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("no mapping for %s %q", e.Kind, e.Key)
}

// machineNames maps Go architecture names to the machine names logical
// platforms are conventionally keyed by. Architectures not listed here
// (ppc64le, s390x, riscv64) already use the same name in both worlds.
var machineNames = map[string]string{
	"amd64": "x86_64",
	"arm64": "aarch64",
	"arm":   "armv7l",
	"386":   "i386",
}

// Current returns the machine name of the architecture this process
// runs on, e.g. "x86_64" on amd64 hosts.
func Current() string {
	arch := platforms.DefaultSpec().Architecture
	if name, ok := machineNames[arch]; ok {
		return name
	}
	return arch
}
