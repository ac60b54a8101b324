//go:build containers_image_openpgp && containers_image_storage_stub && containers_image_docker_daemon_stub

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
	"go.podman.io/image/v5/docker"
	"go.podman.io/image/v5/types"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry/testutil"
)

func insecureClient() *ContainersClient {
	return NewContainersClientWithContext(&types.SystemContext{
		DockerInsecureSkipTLSVerify: types.OptionalBoolTrue,
	})
}

func TestContainersClient_ManifestList(t *testing.T) {
	t.Parallel()

	mr := testutil.New()
	defer mr.Close()

	pushed, err := mr.AddIndex("ns/multi", "5.1", "",
		testutil.ImageOpts{Repo: "ns/multi", OS: "linux", Arch: "amd64"},
		testutil.ImageOpts{Repo: "ns/multi", OS: "linux", Arch: "arm64"},
	)
	if err != nil {
		t.Fatalf("AddIndex: %v", err)
	}

	c := insecureClient()
	list, err := c.ManifestList(testContext(t), imageref.MustParse(mr.Host()+"/ns/multi:5.1"))
	if err != nil {
		t.Fatalf("ManifestList: %v", err)
	}
	if list == nil {
		t.Fatal("ManifestList returned absent for a pushed index")
	}
	if list.Digest.String() != pushed {
		t.Errorf("Digest = %q, want %q", list.Digest, pushed)
	}

	arches := list.Architectures()
	if len(arches) != 2 || arches[0] != "amd64" || arches[1] != "arm64" {
		t.Errorf("Architectures = %v, want [amd64 arm64]", arches)
	}
	for _, e := range list.Entries {
		if e.Digest == "" {
			t.Errorf("entry for %s has empty digest", e.Architecture)
		}
	}
}

func TestContainersClient_ManifestList_SingleImage(t *testing.T) {
	t.Parallel()

	mr := testutil.New()
	defer mr.Close()

	if _, err := mr.AddImage(testutil.ImageOpts{Repo: "ns/app", Tag: "1.0", OS: "linux", Arch: "amd64"}); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	c := insecureClient()
	list, err := c.ManifestList(testContext(t), imageref.MustParse(mr.Host()+"/ns/app:1.0"))
	if err != nil {
		t.Fatalf("ManifestList: %v", err)
	}
	if list != nil {
		t.Errorf("ManifestList = %+v, want absent for a single-arch image", list)
	}
}

func TestContainersClient_ManifestList_UnknownTag(t *testing.T) {
	t.Parallel()

	mr := testutil.New()
	defer mr.Close()

	if _, err := mr.AddImage(testutil.ImageOpts{Repo: "ns/app", Tag: "1.0", OS: "linux", Arch: "amd64"}); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	c := insecureClient()
	list, err := c.ManifestList(testContext(t), imageref.MustParse(mr.Host()+"/ns/app:ghost"))
	if err != nil {
		t.Fatalf("ManifestList: %v", err)
	}
	if list != nil {
		t.Errorf("ManifestList = %+v, want absent for an unknown tag", list)
	}
}

func TestContainersClient_Config(t *testing.T) {
	t.Parallel()

	mr := testutil.New()
	defer mr.Close()

	if _, err := mr.AddImage(testutil.ImageOpts{
		Repo:   "ns/app",
		Tag:    "7.3",
		OS:     "linux",
		Arch:   "amd64",
		Labels: map[string]string{"version": "7.3", "release": "12"},
	}); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	c := insecureClient()
	cfg, err := c.Config(testContext(t), imageref.MustParse(mr.Host()+"/ns/app:7.3"))
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.OS != "linux" || cfg.Architecture != "amd64" {
		t.Errorf("platform = %s/%s, want linux/amd64", cfg.OS, cfg.Architecture)
	}
	if cfg.Labels["version"] != "7.3" || cfg.Labels["release"] != "12" {
		t.Errorf("Labels = %v", cfg.Labels)
	}
}

func TestContainersClient_Config_NotFound(t *testing.T) {
	t.Parallel()

	mr := testutil.New()
	defer mr.Close()

	c := insecureClient()
	_, err := c.Config(testContext(t), imageref.MustParse(mr.Host()+"/ns/ghost:1.0"))
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func isTransport(err error) bool { var e *TransportError; return errors.As(err, &e) }

func isNotFound(err error) bool { var e *NotFoundError; return errors.As(err, &e) }

func isUnauthorized(err error) bool { var e *UnauthorizedError; return errors.As(err, &e) }

func isForbidden(err error) bool { var e *ForbiddenError; return errors.As(err, &e) }

func TestClassifyContainersError(t *testing.T) {
	t.Parallel()

	ref := imageref.MustParse("registry.example.com/ns/app:1.0")

	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, isTransport},
		{"wrapped cancel", fmt.Errorf("fetch: %w", context.Canceled), isTransport},
		{"errcode unauthorized", errcode.Error{Code: errcode.ErrorCodeUnauthorized}, isUnauthorized},
		{"errcode denied", errcode.Error{Code: errcode.ErrorCodeDenied}, isForbidden},
		{"errcode manifest unknown", errcode.Error{Code: v2.ErrorCodeManifestUnknown}, isNotFound},
		{"errcode name unknown", errcode.Error{Code: v2.ErrorCodeNameUnknown}, isNotFound},
		{"errcode too many requests", errcode.Error{Code: errcode.ErrorCodeTooManyRequests}, isTransport},
		{"http 401", docker.UnexpectedHTTPStatusError{StatusCode: 401}, isUnauthorized},
		{"http 403", docker.UnexpectedHTTPStatusError{StatusCode: 403}, isForbidden},
		{"http 404", docker.UnexpectedHTTPStatusError{StatusCode: 404}, isNotFound},
		{"http 500", docker.UnexpectedHTTPStatusError{StatusCode: 500}, isTransport},
		{"string authentication required", errors.New("fetching manifest: authentication required"), isUnauthorized},
		{"string manifest unknown", errors.New("reading manifest: manifest unknown"), isNotFound},
		{"anything else", errors.New("connection reset by peer"), isTransport},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyContainersError(ref, tc.err)
			if !tc.want(got) {
				t.Errorf("classifyContainersError(%v) = %T: %v", tc.err, got, got)
			}
		})
	}
}
