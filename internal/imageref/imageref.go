// Package imageref models docker-style image references as separable
// registry, namespace, repository, tag and digest components.
//
// Unlike reference.ParseNormalizedNamed, parsing preserves absent
// components instead of defaulting them (no implied docker.io registry,
// no implied library namespace), so callers can tell "nginx" apart from
// "docker.io/library/nginx" and fill in the missing parts later.
package imageref

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// anchoredTag matches a whole string against the tag grammar from
// distribution/reference.
var anchoredTag = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)

// Ref is a parsed image reference. Every component except Repo may be
// empty. Tag and Digest are mutually exclusive; when both end up set,
// Digest wins in the rendered form.
//
// Ref is a comparable value type and can be used as a map key.
type Ref struct {
	Registry  string
	Namespace string
	Repo      string
	Tag       string
	Digest    digest.Digest
}

// Parse splits an image string into its components. The first
// slash-separated segment names a registry when it contains a dot or a
// colon or equals "localhost"; otherwise it is a namespace. Absent
// components stay empty.
func Parse(s string) (Ref, error) {
	if s == "" {
		return Ref{}, errors.New("empty image reference")
	}

	var ref Ref
	rest := s

	if i := strings.IndexByte(rest, '@'); i >= 0 {
		d, err := digest.Parse(rest[i+1:])
		if err != nil {
			return Ref{}, fmt.Errorf("parse image %q: %w", s, err)
		}
		ref.Digest = d
		rest = rest[:i]
	}

	// A colon after the last slash separates the tag; earlier colons
	// belong to a registry port.
	if i := strings.LastIndexByte(rest, ':'); i > strings.LastIndexByte(rest, '/') {
		tag := rest[i+1:]
		if !anchoredTag.MatchString(tag) {
			return Ref{}, fmt.Errorf("parse image %q: invalid tag %q", s, tag)
		}
		ref.Tag = tag
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, '/'); i >= 0 && looksLikeRegistry(rest[:i]) {
		ref.Registry = rest[:i]
		rest = rest[i+1:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		ref.Namespace = rest[:i]
		rest = rest[i+1:]
	}
	if rest == "" {
		return Ref{}, fmt.Errorf("parse image %q: missing repository", s)
	}
	ref.Repo = rest

	return ref, nil
}

// MustParse is like Parse but panics on error. Intended for static
// references and tests.
func MustParse(s string) Ref {
	ref, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ref
}

func looksLikeRegistry(segment string) bool {
	return strings.ContainsAny(segment, ".:") || segment == "localhost"
}

// String renders the reference, omitting whatever components are empty.
func (r Ref) String() string {
	out := r.Name()
	switch {
	case r.Digest != "":
		out += "@" + r.Digest.String()
	case r.Tag != "":
		out += ":" + r.Tag
	}
	return out
}

// Name is the registry-qualified repository without tag or digest.
func (r Ref) Name() string {
	out := r.Repository()
	if r.Registry != "" {
		out = r.Registry + "/" + out
	}
	return out
}

// Repository is the namespace-qualified repository path without the
// registry.
func (r Ref) Repository() string {
	if r.Namespace != "" {
		return r.Namespace + "/" + r.Repo
	}
	return r.Repo
}

// WithTag returns a copy of r tagged with tag. Any digest is dropped.
func (r Ref) WithTag(tag string) Ref {
	r.Tag = tag
	r.Digest = ""
	return r
}

// WithDigest returns a copy of r pinned to d. Any tag is dropped.
func (r Ref) WithDigest(d digest.Digest) Ref {
	r.Digest = d
	r.Tag = ""
	return r
}

// WithRegistry returns a copy of r homed at registry.
func (r Ref) WithRegistry(registry string) Ref {
	r.Registry = registry
	return r
}

// WithNamespace returns a copy of r under namespace.
func (r Ref) WithNamespace(namespace string) Ref {
	r.Namespace = namespace
	return r
}

// EnsureRegistry pins r to registry. A reference that already names a
// different registry is rejected with RegistryMismatchError.
func (r Ref) EnsureRegistry(registry string) (Ref, error) {
	if r.Registry != "" && r.Registry != registry {
		return r, &RegistryMismatchError{Ref: r, Expected: registry}
	}
	r.Registry = registry
	return r, nil
}

// RegistryMismatchError indicates an image reference pinned to a
// registry other than the configured source registry.
type RegistryMismatchError struct {
	Ref      Ref
	Expected string
}

func (e *RegistryMismatchError) Error() string {
	return fmt.Sprintf("registry in image %s does not match the configured one: expected %q", e.Ref, e.Expected)
}
