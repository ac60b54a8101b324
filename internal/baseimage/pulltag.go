package baseimage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/pipeline"
	"github.com/wharflab/stevedore/internal/runtime"
)

// maxPullTagAttempts bounds how many pulls one PullAndTag call may issue.
// A race with another build's cleanup resolves in one retry; the bound only
// guarantees termination when something is wildly wrong.
const maxPullTagAttempts = 20

// libraryNamespace is the implicit docker hub namespace. Registries cannot
// be counted on to map a namespace-less reference into it, so a failed pull
// of one is retried there once.
const libraryNamespace = "library"

// pullTagState drives the pull and tag protocol.
type pullTagState int

const (
	// statePulling fetches the image as referenced.
	statePulling pullTagState = iota

	// stateRetryingWithNamespace re-pulls under the library namespace
	// after a namespace-less pull failed.
	stateRetryingWithNamespace

	// stateTagging tags the pulled image under the build-unique name.
	stateTagging

	// stateRetryingAfterRemoval re-pulls an image another build removed
	// between our pull and our tag.
	stateRetryingAfterRemoval
)

// Engine pulls images and retags them under build-unique names so that
// concurrent builds cleaning up their own images cannot pull ours out from
// under us.
type Engine struct {
	runtime  runtime.ContainerRuntime
	insecure bool
	log      logrus.FieldLogger
}

// NewEngine returns an Engine pulling through rt. A nil log falls back to
// the logrus standard logger.
func NewEngine(rt runtime.ContainerRuntime, insecure bool, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{runtime: rt, insecure: insecure, log: log}
}

// PullAndTag pulls ref and tags it under the build's unique name with nonce
// as the tag, returning the new local reference. Every pulled name and the
// canonical name of the tag are recorded in the build's ledger.
//
// Tag failures other than not-found are final. A not-found means another
// build removed the image after our pull, so the pull is repeated, up to
// maxPullTagAttempts pulls in total.
func (e *Engine) PullAndTag(ctx context.Context, build *pipeline.Build, ref imageref.Ref, nonce string) (imageref.Ref, error) {
	image := ref
	target := imageref.Ref{Repo: build.UniqueName, Tag: nonce}

	state := statePulling
	pulls := 0
	// First pull failure, reported if the library-namespace retry fails
	// too.
	var firstFailure error

	for {
		switch state {
		case statePulling, stateRetryingWithNamespace, stateRetryingAfterRemoval:
			if pulls == maxPullTagAttempts {
				e.log.Error("giving up trying to pull image")
				return imageref.Ref{}, &ExhaustedError{Ref: ref, Attempts: pulls}
			}
			pulls++

			if err := e.runtime.PullImage(ctx, image, e.insecure); err != nil {
				if firstFailure != nil {
					return imageref.Ref{}, firstFailure
				}
				if image.Namespace != "" {
					return imageref.Ref{}, err
				}
				e.log.Infof("%q not found", image)
				firstFailure = err
				image = image.WithNamespace(libraryNamespace)
				e.log.Infof("trying %q", image)
				state = stateRetryingWithNamespace
				continue
			}
			build.RecordPulled(image.String())
			state = stateTagging

		case stateTagging:
			e.log.Info("tagging pulled image")
			canonical, err := e.runtime.TagImage(ctx, image, target)
			if err != nil {
				if runtime.IsNotFound(err) {
					e.log.Info("re-pulling removed image")
					state = stateRetryingAfterRemoval
					continue
				}
				return imageref.Ref{}, fmt.Errorf("tag %s as %s: %w", image, target, err)
			}
			build.RecordPulled(canonical)
			e.log.Debugf("image %q is available as %q", image, target)
			return target, nil
		}
	}
}
