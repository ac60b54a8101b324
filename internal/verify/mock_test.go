package verify

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/platform"
	"github.com/wharflab/stevedore/internal/registry"
	"github.com/wharflab/stevedore/internal/runtime"
)

type mockLookup struct {
	fn    func(ctx context.Context, ref imageref.Ref, requireDigest bool) (registry.DigestSet, error)
	calls []imageref.Ref
}

func (m *mockLookup) Digests(ctx context.Context, ref imageref.Ref, requireDigest bool) (registry.DigestSet, error) {
	m.calls = append(m.calls, ref)
	if m.fn == nil {
		return registry.DigestSet{}, nil
	}
	return m.fn(ctx, ref, requireDigest)
}

type mockRuntime struct {
	pullErr    error
	inspectID  string
	inspectErr error

	pulls     []imageref.Ref
	inspected []imageref.Ref
}

func (m *mockRuntime) PullImage(_ context.Context, ref imageref.Ref, _ bool) error {
	m.pulls = append(m.pulls, ref)
	return m.pullErr
}

func (m *mockRuntime) TagImage(_ context.Context, _, dst imageref.Ref) (string, error) {
	return dst.String(), nil
}

func (m *mockRuntime) InspectImage(_ context.Context, ref imageref.Ref) (runtime.ImageInfo, error) {
	m.inspected = append(m.inspected, ref)
	if m.inspectErr != nil {
		return runtime.ImageInfo{}, m.inspectErr
	}
	return runtime.ImageInfo{ID: m.inspectID}, nil
}

func testMapping() platform.Mapping {
	return platform.NewMapping([]platform.Descriptor{
		{Platform: "x86_64", Architecture: "amd64"},
		{Platform: "aarch64", Architecture: "arm64"},
	})
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
