//go:build containers_image_openpgp && containers_image_storage_stub && containers_image_docker_daemon_stub

package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
	"go.podman.io/image/v5/docker"
	"go.podman.io/image/v5/docker/reference"
	"go.podman.io/image/v5/manifest"
	"go.podman.io/image/v5/pkg/blobinfocache/memory"
	"go.podman.io/image/v5/pkg/cli/environment"
	"go.podman.io/image/v5/types"

	"github.com/wharflab/stevedore/internal/imageref"
)

func init() {
	NewDefaultClient = func(opts Options) Client {
		return NewContainersClient(opts)
	}
}

// ContainersClient uses go.podman.io/image/v5 (containers/image) to
// fetch manifest lists and image configs from OCI/Docker registries. It
// respects registries.conf and auth.json via types.SystemContext.
type ContainersClient struct {
	sysCtx    *types.SystemContext
	blobCache types.BlobInfoCache
}

// NewContainersClient creates a client using the default system
// context, adjusted per opts. It respects CONTAINERS_REGISTRIES_CONF /
// REGISTRIES_CONFIG_PATH environment variables for registry mirrors and
// redirects.
func NewContainersClient(opts Options) *ContainersClient {
	sysCtx := &types.SystemContext{}
	// Apply environment variable overrides for registries.conf discovery.
	// Error is ignored: env var overrides are optional and missing vars are not fatal.
	_ = environment.UpdateRegistriesConf(sysCtx)
	if opts.Insecure {
		sysCtx.DockerInsecureSkipTLSVerify = types.OptionalBoolTrue
	}
	if opts.Auth != nil {
		sysCtx.DockerAuthConfig = &types.DockerAuthConfig{
			Username: opts.Auth.Username,
			Password: opts.Auth.Password,
		}
	}
	return &ContainersClient{sysCtx: sysCtx, blobCache: memory.New()}
}

// NewContainersClientWithContext creates a client with a custom system
// context.
func NewContainersClientWithContext(sysCtx *types.SystemContext) *ContainersClient {
	if sysCtx == nil {
		sysCtx = &types.SystemContext{}
	}
	return &ContainersClient{sysCtx: sysCtx, blobCache: memory.New()}
}

// ManifestList fetches the manifest list for ref. References the
// registry does not know, or that name a single-architecture manifest,
// yield (nil, nil).
func (c *ContainersClient) ManifestList(ctx context.Context, ref imageref.Ref) (*ManifestList, error) {
	src, err := c.imageSource(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	raw, mimeType, err := src.GetManifest(ctx, nil)
	if err != nil {
		err = classifyContainersError(ref, err)
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}

	if !manifest.MIMETypeIsMultiImage(mimeType) {
		return nil, nil
	}

	list, err := manifest.ListFromBlob(raw, mimeType)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("parse manifest list for %s: %w", ref, err)}
	}
	listDigest, err := manifest.Digest(raw)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("digest manifest list for %s: %w", ref, err)}
	}

	instances := list.Instances()
	out := &ManifestList{
		MediaType: mimeType,
		Digest:    listDigest,
		Entries:   make([]ManifestDescriptor, 0, len(instances)),
	}
	for _, d := range instances {
		inst, err := list.Instance(d)
		if err != nil || inst.ReadOnly.Platform == nil {
			continue
		}
		out.Entries = append(out.Entries, ManifestDescriptor{
			Digest:       d,
			Architecture: inst.ReadOnly.Platform.Architecture,
		})
	}
	return out, nil
}

// Config fetches the image configuration blob for ref. When ref names a
// manifest list, the instance for the current platform is used.
func (c *ContainersClient) Config(ctx context.Context, ref imageref.Ref) (*ImageConfig, error) {
	src, err := c.imageSource(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	raw, mimeType, err := src.GetManifest(ctx, nil)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}

	if manifest.MIMETypeIsMultiImage(mimeType) {
		list, err := manifest.ListFromBlob(raw, mimeType)
		if err != nil {
			return nil, &TransportError{Err: fmt.Errorf("parse manifest list for %s: %w", ref, err)}
		}
		chosen, err := list.ChooseInstance(c.sysCtx)
		if err != nil {
			return nil, &NotFoundError{Ref: ref, Err: err}
		}
		raw, mimeType, err = src.GetManifest(ctx, &chosen)
		if err != nil {
			return nil, classifyContainersError(ref, err)
		}
	}

	man, err := manifest.FromBlob(raw, mimeType)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}

	blob, _, err := src.GetBlob(ctx, types.BlobInfo{Digest: man.ConfigInfo().Digest}, c.blobCache)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}
	defer blob.Close()

	configBytes, err := readAll(blob, 1<<20) // 1MB limit
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}
	ociConfig, err := parseOCIConfig(configBytes)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}

	return &ImageConfig{
		OS:           ociConfig.OS,
		Architecture: ociConfig.Architecture,
		Labels:       ociConfig.Config.Labels,
		Env:          ociConfig.Config.Env,
	}, nil
}

func (c *ContainersClient) imageSource(ctx context.Context, ref imageref.Ref) (types.ImageSource, error) {
	if ref.Registry == "" {
		return nil, &TransportError{Err: fmt.Errorf("image reference %s has no registry", ref)}
	}
	named, err := reference.ParseNormalizedNamed(ref.String())
	if err != nil {
		return nil, &NotFoundError{Ref: ref, Err: fmt.Errorf("invalid reference: %w", err)}
	}
	named = reference.TagNameOnly(named)

	dockerRef, err := docker.NewReference(named)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}
	src, err := dockerRef.NewImageSource(ctx, c.sysCtx)
	if err != nil {
		return nil, classifyContainersError(ref, err)
	}
	return src, nil
}

// classifyContainersError wraps errors from containers/image into typed errors.
// It uses typed error matching (errcode.ErrorCoder, docker.ErrUnauthorizedForCredentials,
// docker.UnexpectedHTTPStatusError) where possible, falling back to string matching
// only for errors that don't carry structured type information.
func classifyContainersError(ref imageref.Ref, err error) error {
	if err == nil {
		return nil
	}

	// Context errors during registry access typically mean the registry was
	// unreachable or rate-limiting within the per-request budget (e.g., Docker Hub
	// returns HTTP 429 and containers/image retries with exponential backoff until
	// the deadline). Wrap as TransportError rather than surfacing raw
	// "context deadline exceeded".
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Err: fmt.Errorf("registry %s: %w", ref.Registry, err)}
	}

	// Typed error: containers/image returns ErrUnauthorizedForCredentials for 401.
	var authCredErr docker.ErrUnauthorizedForCredentials
	if errors.As(err, &authCredErr) {
		return &UnauthorizedError{Err: err}
	}

	// Typed error: containers/image returns ErrTooManyRequests for 429.
	if errors.Is(err, docker.ErrTooManyRequests) {
		return &TransportError{Err: fmt.Errorf("registry %s: %w", ref.Registry, err)}
	}

	// Typed error: errcode.ErrorCoder carries the registry API error code.
	var ecoder errcode.ErrorCoder
	if errors.As(err, &ecoder) {
		switch ecoder.ErrorCode() {
		case errcode.ErrorCodeUnauthorized:
			return &UnauthorizedError{Err: err}
		case errcode.ErrorCodeDenied:
			return &ForbiddenError{Ref: ref, Err: err}
		case v2.ErrorCodeManifestUnknown, v2.ErrorCodeNameUnknown, v2.ErrorCodeBlobUnknown:
			return &NotFoundError{Ref: ref, Err: err}
		case errcode.ErrorCodeTooManyRequests, errcode.ErrorCodeUnavailable:
			return &TransportError{Err: err}
		}
	}

	// Typed error: UnexpectedHTTPStatusError carries the HTTP status code directly.
	var httpErr docker.UnexpectedHTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 401:
			return &UnauthorizedError{Err: err}
		case 403:
			return &ForbiddenError{Ref: ref, Err: err}
		case 404:
			return &NotFoundError{Ref: ref, Err: err}
		default:
			return &TransportError{Err: err}
		}
	}

	// Typed error: net.Error for network-level failures.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Err: err}
	}

	// Fallback: string matching for errors that don't carry typed information.
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "authentication required"):
		return &UnauthorizedError{Err: err}
	case strings.Contains(errStr, "denied"):
		return &ForbiddenError{Ref: ref, Err: err}
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "manifest unknown") ||
		strings.Contains(errStr, "name unknown"):
		return &NotFoundError{Ref: ref, Err: err}
	}

	return &TransportError{Err: err}
}
