// Package runtime abstracts the container runtime operations the build
// pipeline needs. Implementations wrap a concrete engine; callers rely only
// on the error semantics documented on ContainerRuntime.
package runtime

import (
	"context"

	"github.com/containerd/errdefs"

	"github.com/wharflab/stevedore/internal/imageref"
)

// ImageInfo is the subset of local image metadata the pipeline reads.
type ImageInfo struct {
	// ID is the runtime's content identity for the image.
	ID string
}

// ContainerRuntime is the local image store surface used while pulling
// parent images and verifying published ones.
//
// Error contract:
//   - Any PullImage failure may be retried by the caller.
//   - TagImage returns an error satisfying IsNotFound when the source image
//     vanished from the store between pull and tag; any other failure is
//     final.
type ContainerRuntime interface {
	// PullImage fetches ref into the local store.
	PullImage(ctx context.Context, ref imageref.Ref, insecure bool) error

	// TagImage tags src as dst and returns the canonical name of the new
	// tag.
	TagImage(ctx context.Context, src, dst imageref.Ref) (string, error)

	// InspectImage returns metadata for an image in the local store.
	InspectImage(ctx context.Context, ref imageref.Ref) (ImageInfo, error)
}

// IsNotFound reports whether err means an image is absent from the local
// store.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}
