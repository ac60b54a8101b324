package baseimage

import (
	"fmt"
	"strings"

	"github.com/wharflab/stevedore/internal/imageref"
)

// ConfigUnreachableError reports that the registry would not serve the
// config blob needed to derive the fallback tag for a digest reference.
type ConfigUnreachableError struct {
	Ref imageref.Ref
	Err error
}

func (e *ConfigUnreachableError) Error() string {
	return fmt.Sprintf("unable to fetch config for base image %s: %v", e.Ref, e.Err)
}

func (e *ConfigUnreachableError) Unwrap() error { return e.Err }

// MalformedConfigError reports a config blob without the labels needed to
// derive the fallback tag for a digest reference.
type MalformedConfigError struct {
	Ref   imageref.Ref
	Label string
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("config for base image %s has no %q label", e.Ref, e.Label)
}

// ListUnavailableError reports that platform coverage could not be checked
// because the image has no manifest list.
type ListUnavailableError struct {
	Ref imageref.Ref
}

func (e *ListUnavailableError) Error() string {
	return fmt.Sprintf("unable to fetch manifest list for base image %s", e.Ref)
}

// MissingArchesError reports a manifest list that does not cover every
// architecture the build needs.
type MissingArchesError struct {
	Ref     imageref.Ref
	Missing []string
}

func (e *MissingArchesError) Error() string {
	return fmt.Sprintf("missing arches in manifest list for base image %s: %s",
		e.Ref, strings.Join(e.Missing, ", "))
}

// ExhaustedError reports that the pull and tag protocol hit its attempt
// bound without completing.
type ExhaustedError struct {
	Ref      imageref.Ref
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("too many attempts to pull and tag image %s (%d)", e.Ref, e.Attempts)
}
