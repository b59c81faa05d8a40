package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerHub is the host that actually serves the Docker Hub registry API;
// "docker.io" itself does not.
const dockerHub = "registry-1.docker.io"

// acceptAny is the default Accept header for manifest pulls: the same
// endpoint can return either an image manifest or an image index.
const acceptAny = ocispec.MediaTypeImageManifest + ", " + ocispec.MediaTypeImageIndex

// HTTPError is a non-success registry response.
type HTTPError struct {
	Status     string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// AuthenticationError indicates that the registry demands credentials that
// were not configured.
type AuthenticationError struct {
	Registry string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s requires authentication, provide a username and/or password", e.Registry)
}

// Client speaks the client side of the OCI Distribution API against a single
// registry.  A Client is owned by one operation at a time; it is not safe for
// concurrent use.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md
type Client struct {
	RegistryURL string
	Username    string
	Password    string

	// UserAgent is sent on every request.  Defaults to this package's
	// import path.
	UserAgent string

	session *http.Client
	bare    *http.Client
	token   string
	authed  bool
}

// NewClient returns a client for the registry at registryURL.
//
// A scheme-less URL defaults to https.  The URL may be percent-encoded to
// smuggle an explicit http scheme through path-shaped configuration
// ("http%3A%2F%2Flocalhost%3A5000").  The alias docker.io is rewritten to
// registry-1.docker.io.
func NewClient(registryURL, username, password string) (*Client, error) {
	cleaned, err := cleanRegistryURL(registryURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		RegistryURL: cleaned,
		Username:    username,
		Password:    password,
	}, nil
}

func cleanRegistryURL(raw string) (string, error) {
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "docker.io" {
		u.Host = dockerHub
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// Close releases the client's HTTP sessions.  The client may be reused; the
// next request re-authenticates.
func (c *Client) Close() {
	for _, session := range []*http.Client{c.session, c.bare} {
		if session != nil {
			session.CloseIdleConnections()
		}
	}
	c.session = nil
	c.bare = nil
	c.token = ""
	c.authed = false
}

// checkRedirect caps redirect chains at 2, preventing loops between a
// registry and its blob storage.
func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= 2 {
		return errors.New("stopped after 2 redirects")
	}
	return nil
}

func (c *Client) getSession() *http.Client {
	if c.session == nil {
		c.session = &http.Client{CheckRedirect: checkRedirect}
	}
	return c.session
}

// getBare returns a session that never attaches the registry's bearer token.
// It is used for absolute blob-upload locations, which may point at a signed
// URL on a different host that must not see the token.
func (c *Client) getBare() *http.Client {
	if c.bare == nil {
		c.bare = &http.Client{CheckRedirect: checkRedirect}
	}
	return c.bare
}

type request struct {
	method string
	url    string
	header http.Header
	body   []byte

	// bare requests go through the un-authenticated session.
	bare bool
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if r.body != nil {
		bodyReader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	for key, vals := range r.header {
		req.Header[key] = vals
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/pyoci/pyoci/pkg/oci"
	}
	req.Header.Set("User-Agent", c.UserAgent)

	session := c.getSession()
	if r.bare {
		session = c.getBare()
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := session.Do(req)
	if err != nil {
		return nil, nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, nil, err
	}
	return resp, content, nil
}

func httpErr(resp *http.Response, body []byte) error {
	return &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode, Body: body}
}

// ensureAuth lazily performs the token-auth handshake on the first request.
//
// https://distribution.github.io/distribution/spec/auth/token/
func (c *Client) ensureAuth(ctx context.Context) error {
	if c.authed {
		return nil
	}
	resp, body, err := c.do(ctx, request{method: http.MethodGet, url: c.RegistryURL + "/v2/"})
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		challenge := parseWWWAuth(resp.Header.Get("WWW-Authenticate"))
		dlog.Debugf(ctx, "auth challenge: %v", challenge)
		if err := c.authenticate(ctx, challenge["realm"], challenge["service"]); err != nil {
			return err
		}
	case resp.StatusCode/100 != 2:
		return httpErr(resp, body)
	}
	c.authed = true
	return nil
}

// parseWWWAuth splits a `Bearer realm="...",service="..."` challenge into its
// parameters.
func parseWWWAuth(header string) map[string]string {
	params := make(map[string]string)
	for _, item := range strings.Split(strings.TrimPrefix(header, "Bearer "), ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.Trim(value, `"`)
	}
	return params
}

// authenticate fetches a bearer token from the token endpoint with HTTP basic
// credentials, and attaches it to every subsequent request on this session.
func (c *Client) authenticate(ctx context.Context, realm, service string) error {
	if c.Password == "" {
		return &AuthenticationError{Registry: c.RegistryURL}
	}
	u, err := url.Parse(realm)
	if err != nil {
		return err
	}
	query := u.Query()
	query.Set("grant_type", "password")
	query.Set("service", service)
	query.Set("client_id", c.Username)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Username, c.Password)
	resp, err := c.getSession().Do(req)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return httpErr(resp, body)
	}
	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("token endpoint %s: %w", realm, err)
	}
	c.token = tokenResp.Token
	return nil
}

// List returns the tags of repository name.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#listing-tags
func (c *Client) List(ctx context.Context, name string) ([]string, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	resp, body, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v2/%s/tags/list", c.RegistryURL, name),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp, body)
	}
	var tagList struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(body, &tagList); err != nil {
		return nil, fmt.Errorf("tags/list for %q: %w", name, err)
	}
	return tagList.Tags, nil
}

// PullManifest fetches a manifest or index by tag or digest and returns the
// raw body.  accept defaults to both the image-manifest and image-index media
// types.
func (c *Client) PullManifest(ctx context.Context, name, reference, accept string) ([]byte, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	if accept == "" {
		accept = acceptAny
	}
	resp, body, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v2/%s/manifests/%s", c.RegistryURL, name, reference),
		header: http.Header{"Accept": {accept}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp, body)
	}
	return body, nil
}

// PullBlob fetches a blob by digest.
func (c *Client) PullBlob(ctx context.Context, name string, dgst digest.Digest) ([]byte, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	resp, body, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/v2/%s/blobs/%s", c.RegistryURL, name, dgst),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp, body)
	}
	return body, nil
}

// PushBlob uploads a blob with the POST-then-PUT flow, skipping the upload
// entirely when the registry already has the digest.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#post-then-put
func (c *Client) PushBlob(ctx context.Context, name string, blob []byte, dgst digest.Digest) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}

	resp, _, err := c.do(ctx, request{
		method: http.MethodHead,
		url:    fmt.Sprintf("%s/v2/%s/blobs/%s", c.RegistryURL, name, dgst),
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK {
		dlog.Infof(ctx, "blob already exists: %s@%s", name, dgst)
		return nil
	}

	resp, body, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    fmt.Sprintf("%s/v2/%s/blobs/uploads/", c.RegistryURL, name),
		header: http.Header{"Content-Type": {"application/octet-stream"}},
	})
	if err != nil {
		return err
	}
	var location string
	switch resp.StatusCode {
	case http.StatusCreated:
		// Some registries complete a zero-round-trip upload right away.
		return nil
	case http.StatusAccepted:
		location = resp.Header.Get("Location")
		if location == "" {
			return fmt.Errorf("registry response did not contain a Location header")
		}
	default:
		return httpErr(resp, body)
	}

	// A relative location stays on the registry and goes through the
	// authenticated session.  An absolute location may be a signed URL on a
	// different host; the registry's bearer token must not be sent there.
	bare := false
	if strings.HasPrefix(location, "/") {
		location = c.RegistryURL + location
	} else {
		bare = true
	}
	putURL, err := url.Parse(location)
	if err != nil {
		return err
	}
	query := putURL.Query()
	query.Set("digest", dgst.String())
	putURL.RawQuery = query.Encode()

	resp, body, err = c.do(ctx, request{
		method: http.MethodPut,
		url:    putURL.String(),
		header: http.Header{"Content-Type": {"application/octet-stream"}},
		body:   blob,
		bare:   bare,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		dlog.Infof(ctx, "blob upload rejected: %s", body)
	}
	if resp.StatusCode/100 != 2 {
		return httpErr(resp, body)
	}
	return nil
}

// PushManifest uploads a manifest or index document under a tag.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#pushing-manifests
func (c *Client) PushManifest(ctx context.Context, name, reference, mediaType string, data []byte) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	return c.putManifest(ctx, name, reference, mediaType, data)
}

// PushManifestByDigest uploads a manifest addressed by its digest, skipping
// the upload when the registry already has it.
func (c *Client) PushManifestByDigest(ctx context.Context, name, mediaType string, data []byte, dgst digest.Digest) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}
	resp, _, err := c.do(ctx, request{
		method: http.MethodHead,
		url:    fmt.Sprintf("%s/v2/%s/manifests/%s", c.RegistryURL, name, dgst),
		header: http.Header{"Accept": {mediaType}},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK {
		dlog.Infof(ctx, "manifest already exists: %s@%s", name, dgst)
		return nil
	}
	return c.putManifest(ctx, name, dgst.String(), mediaType, data)
}

func (c *Client) putManifest(ctx context.Context, name, reference, mediaType string, data []byte) error {
	resp, body, err := c.do(ctx, request{
		method: http.MethodPut,
		url:    fmt.Sprintf("%s/v2/%s/manifests/%s", c.RegistryURL, name, reference),
		header: http.Header{"Content-Type": {mediaType}},
		body:   data,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(body) > 0 {
			dlog.Errorf(ctx, "registry error for %s:%s: %s", name, reference, body)
		}
		return httpErr(resp, body)
	}
	return nil
}
