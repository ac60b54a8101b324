package verify

import (
	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/pipeline"
	"github.com/wharflab/stevedore/internal/platform"
	"github.com/wharflab/stevedore/internal/registry"
)

// Expectations describe which digest variants must be visible in the
// distribution registry before verification stops waiting.
type Expectations struct {
	// Schema2 requires a schema 2 manifest digest.
	Schema2 bool

	// List requires a schema 2 manifest list digest.
	List bool

	// ListOnly drops the Schema2 requirement: no amd64 image was built, so
	// the manifest list is the only digest the registry will ever serve.
	ListOnly bool
}

// Missing names the first expectation ds does not meet, or "" when ds is
// acceptable.
func (e Expectations) Missing(ds registry.DigestSet) string {
	if e.List && ds.List == "" {
		return "schema 2 manifest list"
	}
	if !e.ListOnly && e.Schema2 && ds.V2 == "" {
		return "schema 2 manifest"
	}
	return ""
}

// DeriveExpectations decides, once per verification, which digest variants
// to wait for. Grouped per-platform manifests imply a manifest list; when no
// expected platform maps to amd64 the list is the only digest the registry
// will serve.
func DeriveExpectations(build *pipeline.Build, preferSchema1 bool, mapping platform.Mapping, log logrus.FieldLogger) Expectations {
	e := Expectations{Schema2: !preferSchema1}
	if !build.GroupedManifests {
		return e
	}
	e.List = true

	if len(build.Platforms) == 0 {
		log.Debug("Cannot check if only the manifest list digest should be expected because the build has no platform list")
		return e
	}
	for _, plat := range build.Platforms {
		arch, err := mapping.Architecture(plat)
		if err != nil {
			log.Debug("Cannot check if only the manifest list digest should be expected because platform descriptors are not defined")
			return e
		}
		if arch == "amd64" {
			return e
		}
	}
	log.Debug("amd64 was not built, only the manifest list digest is available")
	e.ListOnly = true
	e.Schema2 = false
	return e
}
