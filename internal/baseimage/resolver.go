package baseimage

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry"
)

// Resolver answers whether an image is a manifest list, remembering every
// answer for its own lifetime so a build never asks the registry the same
// question twice.
type Resolver struct {
	client registry.Client
	log    logrus.FieldLogger

	// cache holds one entry per reference value ever resolved. A nil value
	// records that the registry served the image but it is not a manifest
	// list.
	cache map[imageref.Ref]*registry.ManifestList
}

// NewResolver returns a Resolver backed by client. A nil log falls back to
// the logrus standard logger.
func NewResolver(client registry.Client, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{
		client: client,
		log:    log,
		cache:  make(map[imageref.Ref]*registry.ManifestList),
	}
}

// Resolve returns the manifest list for ref, or nil when ref does not name
// one.
//
// A digest reference whose manifest list is absent gets one retry: the
// version and release labels of the image's config blob form the tag the
// digest was most likely published under, and the lookup is repeated with
// that tag. Both the original and the adjusted reference are cached, absent
// results included.
func (r *Resolver) Resolve(ctx context.Context, ref imageref.Ref) (*registry.ManifestList, error) {
	if list, ok := r.cache[ref]; ok {
		return list, nil
	}

	list, err := r.client.ManifestList(ctx, ref)
	if err != nil {
		return nil, err
	}

	fetched := ref
	if list == nil && ref.Digest != "" {
		if fetched, err = r.fallbackTag(ctx, ref); err != nil {
			return nil, err
		}
		if list, err = r.client.ManifestList(ctx, fetched); err != nil {
			return nil, err
		}
	}

	r.cache[ref] = list
	r.cache[fetched] = list
	return list, nil
}

// fallbackTag derives the version-release tag of a digest reference from
// its config blob. Any failure here is final: a digest that cannot be
// mapped back to a tag cannot be checked for manifest list coverage.
func (r *Resolver) fallbackTag(ctx context.Context, ref imageref.Ref) (imageref.Ref, error) {
	cfg, err := r.client.Config(ctx, ref)
	if err != nil {
		r.log.Warnf("Unable to fetch config for %s: %v", ref, err)
		return imageref.Ref{}, &ConfigUnreachableError{Ref: ref, Err: err}
	}
	for _, label := range []string{"release", "version"} {
		if cfg.Labels[label] == "" {
			return imageref.Ref{}, &MalformedConfigError{Ref: ref, Label: label}
		}
	}
	return ref.WithTag(cfg.Labels["version"] + "-" + cfg.Labels["release"]), nil
}
