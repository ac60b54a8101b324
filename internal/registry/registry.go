// Package registry provides OCI registry integration for base-image
// resolution and publish verification: manifest-list and image-config
// fetches via containers/image, and per-schema manifest digest lookups
// over the registry HTTP API.
package registry

import (
	"context"

	godigest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
)

// Client reads manifest and configuration data from a registry. Every
// reference passed to a Client must carry a registry component.
type Client interface {
	// ManifestList fetches the manifest list for ref. A reference that
	// the registry does not know (HTTP 404) or that resolves to a
	// single-architecture manifest yields (nil, nil): absent is an
	// answer, not an error.
	//
	// Error contract:
	//   - UnauthorizedError: 401, missing/expired credentials
	//   - ForbiddenError: 403
	//   - TransportError: network failure or any other HTTP error
	ManifestList(ctx context.Context, ref imageref.Ref) (*ManifestList, error)

	// Config fetches the image configuration blob for ref.
	//
	// Error contract: as for ManifestList, plus NotFoundError when the
	// registry has no manifest for ref.
	Config(ctx context.Context, ref imageref.Ref) (*ImageConfig, error)
}

// DigestLookup reports which manifest schema variants a registry
// currently serves for a reference.
type DigestLookup interface {
	// Digests probes ref's manifest under each known media type and
	// records the digest the registry returned for each. A variant the
	// registry answers 404 for is absent from the set; only when
	// requireDigest is set and no variant resolves at all does Digests
	// fail with NotFoundError.
	//
	// Error contract:
	//   - NotFoundError: requireDigest set and nothing resolved
	//   - UnauthorizedError: 401
	//   - ForbiddenError: 403, carries a request/response diagnostic
	//   - TransportError: network failure or any other HTTP error
	Digests(ctx context.Context, ref imageref.Ref, requireDigest bool) (DigestSet, error)
}

// NewDefaultClient constructs the Client wired into this build. It is
// nil when registry support is compiled out (see the build tags on
// containers.go).
var NewDefaultClient func(opts Options) Client

// Options configure access to one registry.
type Options struct {
	// Insecure allows plain-HTTP registries and skips TLS verification.
	Insecure bool

	// Auth overrides ambient credential discovery (docker config,
	// credential helpers) when set.
	Auth *Credential

	// Logger receives probe and diagnostic messages. Defaults to the
	// logrus standard logger.
	Logger logrus.FieldLogger
}

// Credential is a username/password pair for registry authentication.
type Credential struct {
	Username string
	Password string
}

// ManifestList is a multi-architecture manifest index.
type ManifestList struct {
	// MediaType is the list's own media type (Docker manifest list or
	// OCI image index).
	MediaType string

	// Digest is the digest of the list document itself.
	Digest godigest.Digest

	// Entries are the per-architecture manifests in list order.
	Entries []ManifestDescriptor
}

// ManifestDescriptor is one per-architecture entry of a manifest list.
type ManifestDescriptor struct {
	Digest       godigest.Digest
	Architecture string
}

// Architectures returns the architecture of every entry, in list order.
// Architectures may repeat when a list carries several variants.
func (l *ManifestList) Architectures() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Architecture
	}
	return out
}

// ImageConfig is the subset of an image configuration blob consumed by
// base-image resolution.
type ImageConfig struct {
	// OS is the image's target OS (e.g., "linux").
	OS string

	// Architecture is the image's target architecture (e.g., "amd64").
	Architecture string

	// Labels are the image config labels, e.g. version and release.
	Labels map[string]string

	// Env is the image's environment in KEY=VALUE form.
	Env []string
}

// DigestSet records which manifest schema variants a registry resolves
// for a reference, one digest per variant. An empty field means the
// registry did not serve that variant.
type DigestSet struct {
	// V1 is the digest served for a schema 1 manifest request.
	V1 godigest.Digest

	// V2 is the digest served for a schema 2 manifest request.
	V2 godigest.Digest

	// List is the digest served for a schema 2 manifest list request.
	List godigest.Digest
}

// Empty reports whether no variant resolved at all.
func (d DigestSet) Empty() bool { return d == DigestSet{} }
