package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	gcrtypes "github.com/google/go-containerregistry/pkg/v1/types"
	godigest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/wharflab/stevedore/internal/imageref"
)

// DigestClient looks up manifest digests over the registry HTTP API,
// probing one manifest media type at a time and reading the
// Docker-Content-Digest header the registry answers with.
type DigestClient struct {
	insecure bool
	auth     *Credential
	log      logrus.FieldLogger
}

// NewDigestClient builds a DigestClient according to opts.
func NewDigestClient(opts Options) *DigestClient {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DigestClient{insecure: opts.Insecure, auth: opts.Auth, log: log}
}

// Digests implements DigestLookup.
func (c *DigestClient) Digests(ctx context.Context, ref imageref.Ref, requireDigest bool) (DigestSet, error) {
	if ref.Registry == "" {
		return DigestSet{}, &TransportError{Err: fmt.Errorf("image reference %s has no registry", ref)}
	}

	var nameOpts []name.Option
	if c.insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	repo, err := name.NewRepository(ref.Name(), nameOpts...)
	if err != nil {
		return DigestSet{}, &TransportError{Err: fmt.Errorf("parse repository for %s: %w", ref, err)}
	}

	auth, err := c.authenticator(repo.Registry)
	if err != nil {
		return DigestSet{}, &TransportError{Err: err}
	}
	base := http.DefaultTransport
	if c.insecure {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Insecure is explicit user configuration.
		base = t
	}
	rt, err := transport.NewWithContext(ctx, repo.Registry, auth, base, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return DigestSet{}, classifyProbeError(ref, err)
	}
	client := &http.Client{Transport: rt}

	sel := ref.Tag
	if ref.Digest != "" {
		sel = ref.Digest.String()
	}
	if sel == "" {
		sel = "latest"
	}

	var set DigestSet
	probes := []struct {
		mediaType gcrtypes.MediaType
		slot      *godigest.Digest
	}{
		{gcrtypes.DockerManifestSchema1, &set.V1},
		{gcrtypes.DockerManifestSchema2, &set.V2},
		{gcrtypes.DockerManifestList, &set.List},
	}
	for _, p := range probes {
		d, err := c.probe(ctx, client, repo, sel, string(p.mediaType), ref)
		if err != nil {
			return DigestSet{}, err
		}
		*p.slot = d
	}

	if requireDigest && set.Empty() {
		return DigestSet{}, &NotFoundError{Ref: ref, Err: errors.New("no manifest digests resolved")}
	}
	return set, nil
}

// probe requests ref's manifest under a single media type and returns
// the digest the registry served for it, or "" when the registry does
// not have that variant (HTTP 404, or a 200 with a different content
// type).
func (c *DigestClient) probe(ctx context.Context, client *http.Client, repo name.Repository, sel, mediaType string, ref imageref.Ref) (godigest.Digest, error) {
	url := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", repo.Scheme(), repo.RegistryStr(), repo.RepositoryStr(), sel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	req.Header.Set("Accept", mediaType)

	resp, err := client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body, 1<<20)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		c.log.Debugf("no %s manifest for %s", mediaType, ref)
		return "", nil
	case http.StatusUnauthorized:
		return "", &UnauthorizedError{Err: fmt.Errorf("GET %s: %s", url, resp.Status)}
	case http.StatusForbidden:
		return "", &ForbiddenError{
			Ref:        ref,
			Diagnostic: forbiddenDiagnostic(resp, body),
			Err:        fmt.Errorf("GET %s: %s", url, resp.Status),
		}
	default:
		return "", &TransportError{Err: fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !matchesMediaType(mediaType, contentType) {
		c.log.Debugf("requested %s for %s, registry served %s", mediaType, ref, contentType)
		return "", nil
	}
	if header := resp.Header.Get("Docker-Content-Digest"); header != "" {
		if d, err := godigest.Parse(header); err == nil {
			return d, nil
		}
	}
	return godigest.FromBytes(body), nil
}

func (c *DigestClient) authenticator(reg name.Registry) (authn.Authenticator, error) {
	if c.auth != nil {
		return authn.FromConfig(authn.AuthConfig{
			Username: c.auth.Username,
			Password: c.auth.Password,
		}), nil
	}
	auth, err := authn.DefaultKeychain.Resolve(reg)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", reg.RegistryStr(), err)
	}
	return auth, nil
}

// classifyProbeError types errors surfaced by the go-containerregistry
// transport (token exchange, /v2/ ping).
func classifyProbeError(ref imageref.Ref, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusUnauthorized:
			return &UnauthorizedError{Err: err}
		case http.StatusForbidden:
			return &ForbiddenError{Ref: ref, Err: err}
		case http.StatusNotFound:
			return &NotFoundError{Ref: ref, Err: err}
		}
	}
	return &TransportError{Err: err}
}

// matchesMediaType reports whether a response content type satisfies
// the requested manifest media type. Registries answer schema 1
// requests with the signed variant (v1+prettyjws), so types match on
// the family before the "+".
func matchesMediaType(requested, got string) bool {
	if requested == got {
		return true
	}
	reqBase, _, _ := strings.Cut(requested, "+")
	gotBase, _, _ := strings.Cut(got, "+")
	return reqBase == gotBase
}

// forbiddenDiagnostic renders the full response and request context of
// a 403 in one line: status, response headers, body, then the request
// URL and redacted request headers.
func forbiddenDiagnostic(resp *http.Response, body []byte) string {
	req := resp.Request
	return fmt.Sprintf("[%d] %s %v %q: from %s %v",
		resp.StatusCode, http.StatusText(resp.StatusCode), resp.Header, body,
		req.URL, redactHeaders(req.Header))
}

// redactHeaders hides credential-bearing header values.
func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Authorization", "Cookie"} {
		if out.Get(k) != "" {
			out.Set(k, "REDACTED")
		}
	}
	return out
}
