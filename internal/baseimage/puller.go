// Package baseimage prepares the parent images of a container build: it
// enforces the configured source registry, validates that multi-platform
// builds get a manifest list covering every required architecture, and pulls
// each parent into the local store under a build-unique tag that concurrent
// builds cannot remove.
package baseimage

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/pipeline"
	"github.com/wharflab/stevedore/internal/platform"
	"github.com/wharflab/stevedore/internal/registry"
	"github.com/wharflab/stevedore/internal/runtime"
)

// PullerOptions configure a Puller.
type PullerOptions struct {
	// Registry pins the registry parent images must come from. References
	// naming another registry are rejected; references naming none get it
	// applied. Empty leaves references as declared.
	Registry string

	// Insecure allows plain-HTTP access to the source registry.
	Insecure bool

	// CheckPlatforms validates manifest list coverage and realigns parent
	// digests to an architecture the list provides.
	CheckPlatforms bool

	// Mapping translates between logical platform names and architectures.
	Mapping platform.Mapping

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Puller prepares every parent image a build needs.
type Puller struct {
	resolver       *Resolver
	engine         *Engine
	registry       string
	mapping        platform.Mapping
	checkPlatforms bool
	log            logrus.FieldLogger
}

// NewPuller returns a Puller resolving manifest lists through client and
// pulling through rt.
func NewPuller(client registry.Client, rt runtime.ContainerRuntime, opts PullerOptions) *Puller {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Puller{
		resolver:       NewResolver(client, log),
		engine:         NewEngine(rt, opts.Insecure, log),
		registry:       opts.Registry,
		mapping:        opts.Mapping,
		checkPlatforms: opts.CheckPlatforms,
		log:            log,
	}
}

// PullResult is the outcome of preparing a build's parent images.
type PullResult struct {
	// Images maps each declared parent reference to the unique local tag
	// the build uses instead.
	Images map[imageref.Ref]imageref.Ref

	// BaseImage is the unique local tag replacing the build's base image.
	// Zero when the build declares no base image.
	BaseImage imageref.Ref
}

// PullParentImages pulls every parent image of build and retags each under
// the build's unique name. Parents are processed in lexical order and their
// position index becomes the tag distinguishing them.
func (p *Puller) PullParentImages(ctx context.Context, build *pipeline.Build) (*PullResult, error) {
	current := platform.Current()

	parents := slices.Clone(build.ParentImages)
	slices.SortFunc(parents, func(a, b imageref.Ref) int {
		return strings.Compare(a.String(), b.String())
	})
	parents = slices.Compact(parents)

	result := &PullResult{Images: make(map[imageref.Ref]imageref.Ref, len(parents))}
	for nonce, parent := range parents {
		image := parent
		if parent == build.BaseImage {
			resolved, err := p.resolveBaseImage(build)
			if err != nil {
				return nil, err
			}
			image = resolved
		}

		if p.registry != "" {
			pinned, err := image.EnsureRegistry(p.registry)
			if err != nil {
				p.log.Error(err)
				return nil, err
			}
			image = pinned
		}

		if p.checkPlatforms {
			if err := p.resolver.ValidateCoverage(ctx, image, build.Platforms, p.mapping); err != nil {
				return nil, err
			}
			aligned, err := p.resolver.AlignToCurrentPlatform(ctx, image, current, p.mapping)
			if err != nil {
				return nil, err
			}
			image = aligned
		}

		unique, err := p.engine.PullAndTag(ctx, build, image, strconv.Itoa(nonce))
		if err != nil {
			return nil, err
		}
		result.Images[parent] = unique
		if parent == build.BaseImage {
			result.BaseImage = unique
		}
	}
	return result, nil
}

// resolveBaseImage substitutes the trigger image for automatic rebuilds.
func (p *Puller) resolveBaseImage(build *pipeline.Build) (imageref.Ref, error) {
	if build.TriggerImageID == "" {
		p.log.Infof("using %s as base image", build.BaseImage)
		return build.BaseImage, nil
	}
	ref, err := imageref.Parse(build.TriggerImageID)
	if err != nil {
		return imageref.Ref{}, fmt.Errorf("parse trigger image: %w", err)
	}
	p.log.Infof("using %s from build trigger as base image", ref)
	return ref, nil
}
