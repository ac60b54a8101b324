// Package verify confirms that a freshly published image is visible in the
// distribution registry under the expected manifest schemas. Registries that
// sync server-side are polled until the content appears. When no schema 2
// digest is discoverable the image is pulled back through the container
// runtime so the build's image ID matches the identity consumers will see.
package verify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"go.podman.io/image/v5/manifest"

	"github.com/wharflab/stevedore/internal/pipeline"
	"github.com/wharflab/stevedore/internal/platform"
	"github.com/wharflab/stevedore/internal/registry"
	"github.com/wharflab/stevedore/internal/runtime"
)

// mediaTypeDockerV1 is the content type docker-save style uploads are served
// under. It predates the distribution manifest media types, which is why
// there is no constant for it in the manifest package.
const mediaTypeDockerV1 = "application/json"

// Result is the outcome of verifying one build.
type Result struct {
	// MediaTypes are the media types the image is published under, sorted.
	MediaTypes []string

	// ImageID is the build's image ID after verification. It changes when
	// the image had to be pulled back to learn its distribution-side
	// identity, and resets to empty for failed builds.
	ImageID string
}

// Options configure a Verifier.
type Options struct {
	// Timeout bounds how long a server-side sync may take to surface the
	// published digests. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RetryDelay is the pause between digest lookups. Defaults to
	// DefaultRetryDelay.
	RetryDelay time.Duration

	// Insecure allows plain-HTTP pulls from the distribution registry.
	Insecure bool

	// PreferSchema1 suppresses the schema 2 manifest expectation for
	// registries that serve schema 1 content first.
	PreferSchema1 bool

	// Mapping translates logical platform names to architectures.
	Mapping platform.Mapping

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Verifier checks published images. It implements both
// pipeline.PostBuildStep and pipeline.ExitStep; the orchestrator decides
// which role is active.
type Verifier struct {
	runtime       runtime.ContainerRuntime
	poller        *Poller
	insecure      bool
	preferSchema1 bool
	mapping       platform.Mapping
	log           logrus.FieldLogger
}

// NewVerifier returns a Verifier polling digests through lookup and pulling
// through rt.
func NewVerifier(lookup registry.DigestLookup, rt runtime.ContainerRuntime, opts Options) *Verifier {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Verifier{
		runtime:       rt,
		poller:        NewPoller(lookup, opts.Timeout, opts.RetryDelay, log),
		insecure:      opts.Insecure,
		preferSchema1: opts.PreferSchema1,
		mapping:       opts.Mapping,
		log:           log,
	}
}

// Verify checks that build's image is visible in its first push registry and
// reports the published media types along with the image ID consumers will
// resolve the image to.
func (v *Verifier) Verify(ctx context.Context, build *pipeline.Build) (*Result, error) {
	if build.Failed {
		v.log.Info("Not running for failed build")
		return &Result{}, nil
	}

	expect := DeriveExpectations(build, v.preferSchema1, v.mapping, v.log)

	if len(build.UniqueImages) == 0 {
		return nil, errors.New("build has no unique images")
	}
	if len(build.PushRegistries) == 0 {
		return nil, errors.New("build has no push registries")
	}
	reg := build.PushRegistries[0]
	pullspec := build.UniqueImages[0].WithRegistry(reg.Host())

	mediaTypes := make([]string, 0, 4)
	for _, method := range build.PublishMethods {
		switch method {
		case pipeline.PublishSchema1Sync:
			mediaTypes = append(mediaTypes, manifest.DockerV2Schema1MediaType)
		case pipeline.PublishLegacyUpload:
			mediaTypes = append(mediaTypes, mediaTypeDockerV1)
		}
	}

	if reg.ServerSideSync {
		digests, err := v.poller.Wait(ctx, pullspec, expect)
		if err != nil {
			return nil, err
		}
		if !digests.Empty() {
			if digests.List != "" {
				v.log.Info("Manifest list found")
				mediaTypes = append(mediaTypes, manifest.DockerV2ListMediaType)
				if expect.ListOnly {
					v.log.Infof("Only the schema 2 manifest list is expected, leaving image ID unchanged %s", build.ImageID)
					return &Result{
						MediaTypes: []string{manifest.DockerV2ListMediaType},
						ImageID:    build.ImageID,
					}, nil
				}
			}
			if digests.V2 != "" {
				// The image ID is already the distribution-side identity,
				// no pull needed.
				v.log.Infof("V2 schema 2 digest found, leaving image ID unchanged %s", build.ImageID)
				mediaTypes = append(mediaTypes, manifest.DockerV2Schema2MediaType)
				slices.Sort(mediaTypes)
				return &Result{MediaTypes: mediaTypes, ImageID: build.ImageID}, nil
			}
		} else {
			v.log.Info("No digests were found")
		}
	}

	// Only schema 1 content is discoverable. Its pulled form gets a
	// different image ID than the locally built one, so pull it back and
	// inspect it to learn the identity consumers will see.
	if err := v.runtime.PullImage(ctx, pullspec, v.insecure); err != nil {
		return nil, fmt.Errorf("pull %s: %w", pullspec, err)
	}
	info, err := v.runtime.InspectImage(ctx, pullspec)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", pullspec, err)
	}
	build.RecordPulled(pullspec.String())

	v.log.Debugf("image ID changed from %s to %s", build.ImageID, info.ID)
	slices.Sort(mediaTypes)
	return &Result{MediaTypes: mediaTypes, ImageID: info.ID}, nil
}

// PostBuildRun implements pipeline.PostBuildStep.
func (v *Verifier) PostBuildRun(ctx context.Context, build *pipeline.Build) error {
	return v.apply(ctx, build)
}

// ExitRun implements pipeline.ExitStep.
func (v *Verifier) ExitRun(ctx context.Context, build *pipeline.Build) error {
	return v.apply(ctx, build)
}

func (v *Verifier) apply(ctx context.Context, build *pipeline.Build) error {
	res, err := v.Verify(ctx, build)
	if err != nil {
		return err
	}
	build.MediaTypes = res.MediaTypes
	build.ImageID = res.ImageID
	return nil
}
