package baseimage

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/platform"
)

// ValidateCoverage ensures ref's manifest list covers every architecture
// the expected platforms map to. Validation is skipped, never failed, when
// there are fewer than two expected platforms, when ref names no registry,
// or when the platform mapping is incomplete.
func (r *Resolver) ValidateCoverage(ctx context.Context, ref imageref.Ref, expected []string, mapping platform.Mapping) error {
	if len(expected) == 0 {
		r.log.Info("Skipping validation of available platforms because expected platforms are unknown")
		return nil
	}
	if len(expected) == 1 {
		r.log.Info("Skipping validation of available platforms for base image because this is a single platform build")
		return nil
	}
	if ref.Registry == "" {
		r.log.Info("Cannot validate available platforms for base image because base image registry is not defined")
		return nil
	}

	expectedArches := make(map[string]struct{}, len(expected))
	for _, plat := range expected {
		arch, err := mapping.Architecture(plat)
		if err != nil {
			r.log.Info("Cannot validate available platforms for base image because platform descriptors are not defined")
			return nil
		}
		expectedArches[arch] = struct{}{}
	}

	list, err := r.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if list == nil {
		return &ListUnavailableError{Ref: ref}
	}

	listed := make(map[string]struct{}, len(list.Entries))
	for _, arch := range list.Architectures() {
		listed[arch] = struct{}{}
	}
	r.log.Infof("Manifest list arches: %s, expected arches: %s",
		joinSorted(listed), joinSorted(expectedArches))

	var missing []string
	for arch := range expectedArches {
		if _, ok := listed[arch]; !ok {
			missing = append(missing, arch)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return &MissingArchesError{Ref: ref, Missing: missing}
	}

	r.log.Info("Base image is a manifest list for all required platforms")
	return nil
}

// AlignToCurrentPlatform substitutes a digest reference for an architecture
// the manifest list does provide when current is not among its platforms.
// The reference comes back unchanged when the list already covers current,
// when ref has no manifest list, or when the platform mapping is
// incomplete.
func (r *Resolver) AlignToCurrentPlatform(ctx context.Context, ref imageref.Ref, current string, mapping platform.Mapping) (imageref.Ref, error) {
	list, err := r.Resolve(ctx, ref)
	if err != nil {
		return imageref.Ref{}, err
	}
	if list == nil || len(list.Entries) == 0 {
		return ref, nil
	}

	// First occurrence fixes an architecture's position, the last entry for
	// it wins the digest.
	archOrder := make([]string, 0, len(list.Entries))
	archDigest := make(map[string]digest.Digest, len(list.Entries))
	for _, entry := range list.Entries {
		if _, ok := archDigest[entry.Architecture]; !ok {
			archOrder = append(archOrder, entry.Architecture)
		}
		archDigest[entry.Architecture] = entry.Digest
	}

	present := make(map[string]digest.Digest, len(archOrder))
	var lastPlatform string
	for _, arch := range archOrder {
		plat, err := mapping.Platform(arch)
		if err != nil {
			r.log.Info("Cannot validate available platforms for base image because platform descriptors are not defined")
			return ref, nil
		}
		lastPlatform = plat
		present[plat] = archDigest[arch]
	}

	if _, ok := present[current]; ok {
		return ref, nil
	}
	return ref.WithDigest(present[lastPlatform]), nil
}

func joinSorted(set map[string]struct{}) string {
	return strings.Join(slices.Sorted(maps.Keys(set)), ", ")
}
