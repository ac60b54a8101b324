package baseimage

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry"
	"github.com/wharflab/stevedore/internal/runtime"
)

type mockClient struct {
	manifestListFn func(ctx context.Context, ref imageref.Ref) (*registry.ManifestList, error)
	configFn       func(ctx context.Context, ref imageref.Ref) (*registry.ImageConfig, error)

	manifestListCalls []imageref.Ref
	configCalls       []imageref.Ref
}

func (m *mockClient) ManifestList(ctx context.Context, ref imageref.Ref) (*registry.ManifestList, error) {
	m.manifestListCalls = append(m.manifestListCalls, ref)
	if m.manifestListFn == nil {
		return nil, nil
	}
	return m.manifestListFn(ctx, ref)
}

func (m *mockClient) Config(ctx context.Context, ref imageref.Ref) (*registry.ImageConfig, error) {
	m.configCalls = append(m.configCalls, ref)
	if m.configFn == nil {
		return nil, errors.New("unexpected Config call")
	}
	return m.configFn(ctx, ref)
}

type mockRuntime struct {
	pullFn    func(ctx context.Context, ref imageref.Ref, insecure bool) error
	tagFn     func(ctx context.Context, src, dst imageref.Ref) (string, error)
	inspectFn func(ctx context.Context, ref imageref.Ref) (runtime.ImageInfo, error)

	pulls []imageref.Ref
	tags  [][2]imageref.Ref
}

func (m *mockRuntime) PullImage(ctx context.Context, ref imageref.Ref, insecure bool) error {
	m.pulls = append(m.pulls, ref)
	if m.pullFn == nil {
		return nil
	}
	return m.pullFn(ctx, ref, insecure)
}

func (m *mockRuntime) TagImage(ctx context.Context, src, dst imageref.Ref) (string, error) {
	m.tags = append(m.tags, [2]imageref.Ref{src, dst})
	if m.tagFn == nil {
		return dst.String(), nil
	}
	return m.tagFn(ctx, src, dst)
}

func (m *mockRuntime) InspectImage(ctx context.Context, ref imageref.Ref) (runtime.ImageInfo, error) {
	if m.inspectFn == nil {
		return runtime.ImageInfo{}, errors.New("unexpected InspectImage call")
	}
	return m.inspectFn(ctx, ref)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
