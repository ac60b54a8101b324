package baseimage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func manifestListOf(arches ...string) *registry.ManifestList {
	entries := make([]registry.ManifestDescriptor, len(arches))
	for i, arch := range arches {
		entries[i] = registry.ManifestDescriptor{
			Digest:       digest.FromString(arch),
			Architecture: arch,
		}
	}
	return &registry.ManifestList{
		MediaType: imgspecv1.MediaTypeImageIndex,
		Digest:    digest.FromString("list"),
		Entries:   entries,
	}
}

func TestResolverCachesByReference(t *testing.T) {
	t.Parallel()

	client := &mockClient{
		manifestListFn: func(_ context.Context, _ imageref.Ref) (*registry.ManifestList, error) {
			return manifestListOf("amd64", "arm64"), nil
		},
	}
	r := NewResolver(client, testLogger())
	ref := imageref.MustParse("registry.example.com/ns/app:1.0")

	first, err := r.Resolve(testContext(t), ref)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := r.Resolve(testContext(t), ref)
	if err != nil {
		t.Fatalf("Resolve() second error = %v", err)
	}
	if first != second {
		t.Error("Resolve() did not return the cached list")
	}
	if got := len(client.manifestListCalls); got != 1 {
		t.Errorf("manifest list fetched %d times, want 1", got)
	}
}

func TestResolverCachesAbsentResult(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	r := NewResolver(client, testLogger())
	ref := imageref.MustParse("registry.example.com/ns/app:1.0")

	for range 2 {
		list, err := r.Resolve(testContext(t), ref)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if list != nil {
			t.Fatalf("Resolve() = %+v, want nil for a single-arch image", list)
		}
	}
	if got := len(client.manifestListCalls); got != 1 {
		t.Errorf("manifest list fetched %d times, want 1", got)
	}
	if got := len(client.configCalls); got != 0 {
		t.Errorf("config fetched %d times for a tag reference, want 0", got)
	}
}

func TestResolverDigestFallback(t *testing.T) {
	t.Parallel()

	dgst := digest.FromString("app config")
	ref := imageref.MustParse("registry.example.com/ns/app@" + dgst.String())
	vrTag := ref.WithTag("1.0-3")

	client := &mockClient{
		manifestListFn: func(_ context.Context, r imageref.Ref) (*registry.ManifestList, error) {
			if r.Digest != "" {
				return nil, nil
			}
			return manifestListOf("amd64", "arm64"), nil
		},
		configFn: func(_ context.Context, _ imageref.Ref) (*registry.ImageConfig, error) {
			return &registry.ImageConfig{
				Labels: map[string]string{"version": "1.0", "release": "3"},
			}, nil
		},
	}
	r := NewResolver(client, testLogger())

	list, err := r.Resolve(testContext(t), ref)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if list == nil {
		t.Fatal("Resolve() = nil, want the list served under the fallback tag")
	}
	if got := len(client.configCalls); got != 1 {
		t.Errorf("config fetched %d times, want 1", got)
	}
	if got := len(client.manifestListCalls); got != 2 {
		t.Fatalf("manifest list fetched %d times, want 2", got)
	}
	if got := client.manifestListCalls[1]; got != vrTag {
		t.Errorf("fallback fetch used %s, want %s", got, vrTag)
	}

	// Both the digest reference and the synthesized tag are now cached.
	if _, err := r.Resolve(testContext(t), ref); err != nil {
		t.Fatalf("Resolve() by digest error = %v", err)
	}
	if _, err := r.Resolve(testContext(t), vrTag); err != nil {
		t.Fatalf("Resolve() by tag error = %v", err)
	}
	if got := len(client.manifestListCalls); got != 2 {
		t.Errorf("manifest list fetched %d times after cached resolves, want 2", got)
	}
	if got := len(client.configCalls); got != 1 {
		t.Errorf("config fetched %d times after cached resolves, want 1", got)
	}
}

func TestResolverDigestFallbackConfigError(t *testing.T) {
	t.Parallel()

	dgst := digest.FromString("app config")
	ref := imageref.MustParse("registry.example.com/ns/app@" + dgst.String())

	client := &mockClient{
		configFn: func(_ context.Context, _ imageref.Ref) (*registry.ImageConfig, error) {
			return nil, &registry.TransportError{Err: errors.New("connection reset")}
		},
	}
	r := NewResolver(client, testLogger())

	_, err := r.Resolve(testContext(t), ref)
	var unreachable *ConfigUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("Resolve() error = %v, want ConfigUnreachableError", err)
	}
	var transport *registry.TransportError
	if !errors.As(err, &transport) {
		t.Errorf("Resolve() error does not unwrap to the transport failure: %v", err)
	}
}

func TestResolverDigestFallbackMissingLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		labels    map[string]string
		wantLabel string
	}{
		{name: "no labels", labels: map[string]string{}, wantLabel: "release"},
		{name: "missing version", labels: map[string]string{"release": "3"}, wantLabel: "version"},
		{name: "missing release", labels: map[string]string{"version": "1.0"}, wantLabel: "release"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dgst := digest.FromString("app config")
			ref := imageref.MustParse("registry.example.com/ns/app@" + dgst.String())
			client := &mockClient{
				configFn: func(_ context.Context, _ imageref.Ref) (*registry.ImageConfig, error) {
					return &registry.ImageConfig{Labels: tc.labels}, nil
				},
			}

			_, err := NewResolver(client, testLogger()).Resolve(testContext(t), ref)
			var malformed *MalformedConfigError
			if !errors.As(err, &malformed) {
				t.Fatalf("Resolve() error = %v, want MalformedConfigError", err)
			}
			if malformed.Label != tc.wantLabel {
				t.Errorf("missing label = %q, want %q", malformed.Label, tc.wantLabel)
			}
		})
	}
}

func TestResolverDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	client := &mockClient{
		manifestListFn: func(_ context.Context, _ imageref.Ref) (*registry.ManifestList, error) {
			return nil, &registry.TransportError{Err: errors.New("connection refused")}
		},
	}
	r := NewResolver(client, testLogger())
	ref := imageref.MustParse("registry.example.com/ns/app:1.0")

	for range 2 {
		if _, err := r.Resolve(testContext(t), ref); err == nil {
			t.Fatal("Resolve() error = nil, want transport failure")
		}
	}
	if got := len(client.manifestListCalls); got != 2 {
		t.Errorf("manifest list fetched %d times, want 2: errors must not be cached", got)
	}
}
