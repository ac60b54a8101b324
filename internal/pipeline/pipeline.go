// Package pipeline carries the per-build context shared by the image
// resolution and publish verification steps. Build holds only the fields
// those steps read or write; the rest of the orchestrator state stays with
// the caller.
package pipeline

import (
	"context"
	"slices"
	"strings"

	"github.com/wharflab/stevedore/internal/imageref"
)

// PublishMethod names one mechanism by which image content reaches a
// distribution registry.
type PublishMethod string

const (
	// PublishSchema1Sync syncs Docker schema 1 manifests into the
	// distribution registry.
	PublishSchema1Sync PublishMethod = "schema1-sync"

	// PublishLegacyUpload uploads the docker-save form of the image, which
	// is served with a plain v1 content type.
	PublishLegacyUpload PublishMethod = "legacy-upload"
)

// Registry is one distribution registry a build publishes to.
type Registry struct {
	// URI locates the registry, with or without a URL scheme.
	URI string

	// Insecure allows plain-HTTP access.
	Insecure bool

	// ServerSideSync marks registries whose content appears asynchronously
	// after a publish, so verification has to poll for it.
	ServerSideSync bool
}

// Host returns the registry host[:port] with any URL scheme and trailing
// slash removed, suitable as the registry component of an image reference.
func (r Registry) Host() string {
	host := r.URI
	for _, scheme := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(host, scheme); ok {
			host = rest
			break
		}
	}
	return strings.TrimSuffix(host, "/")
}

// Ledger records every image name a build materializes in the local store,
// so all of them can be removed once the build finishes.
type Ledger interface {
	RecordPulled(name string)
}

// PullLedger is the default Ledger. It keeps names in first-recorded order
// and drops duplicates.
type PullLedger struct {
	names []string
	seen  map[string]struct{}
}

// RecordPulled implements Ledger.
func (l *PullLedger) RecordPulled(name string) {
	if _, ok := l.seen[name]; ok {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	l.seen[name] = struct{}{}
	l.names = append(l.names, name)
}

// Pulled returns the recorded names in the order they were first recorded.
func (l *PullLedger) Pulled() []string {
	return slices.Clone(l.names)
}

// Build is the context of one container image build.
type Build struct {
	// UniqueName is the cluster-unique build name. Pulled parent images are
	// retagged under it so other builds' cleanup cannot remove them.
	UniqueName string

	// TriggerImageID is the image that triggered an automatic rebuild.
	// When set it replaces the declared base image.
	TriggerImageID string

	// BaseImage is the image the final build stage derives from.
	BaseImage imageref.Ref

	// ParentImages lists every image the build derives a stage from,
	// BaseImage included.
	ParentImages []imageref.Ref

	// Platforms are the logical platform names the build produces images
	// for.
	Platforms []string

	// UniqueImages are the build-unique names the built image was tagged
	// and pushed under.
	UniqueImages []imageref.Ref

	// PushRegistries are the distribution registries the image is
	// published to.
	PushRegistries []Registry

	// PublishMethods records which publish mechanisms ran for this build.
	PublishMethods []PublishMethod

	// GroupedManifests is true when the per-platform manifests were
	// grouped into a manifest list.
	GroupedManifests bool

	// Failed marks a build whose build step did not succeed. Exit steps
	// still run for failed builds.
	Failed bool

	// ImageID is the local identity of the built image. Verification may
	// replace it with the distribution-side identity.
	ImageID string

	// MediaTypes accumulates the media types the image is known to be
	// published under.
	MediaTypes []string

	// Ledger, when set, receives every image name pulled on behalf of
	// this build.
	Ledger Ledger
}

// RecordPulled forwards to the build's Ledger when one is set.
func (b *Build) RecordPulled(name string) {
	if b.Ledger != nil {
		b.Ledger.RecordPulled(name)
	}
}

// PostBuildStep runs after a successful build step.
type PostBuildStep interface {
	PostBuildRun(ctx context.Context, build *Build) error
}

// ExitStep runs when the pipeline finishes, whether the build succeeded or
// not.
type ExitStep interface {
	ExitRun(ctx context.Context, build *Build) error
}
