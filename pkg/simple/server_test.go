package simple_test

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/pkg/python/pep503"
	"github.com/pyoci/pyoci/pkg/simple"
)

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// testServers starts an in-memory OCI registry plus the simple-repository
// facade in front of it, and returns the facade's base URL for the registry's
// "acme" namespace.
func testServers(t *testing.T) (facadeURL, namespaceURL string) {
	t.Helper()
	reg := httptest.NewServer(registry.New(registry.Logger(log.New(testLogWriter{t}, "", 0))))
	t.Cleanup(reg.Close)

	facade := httptest.NewServer(simple.NewHandler())
	t.Cleanup(facade.Close)

	return facade.URL, facade.URL + "/" + url.PathEscape(reg.URL) + "/acme"
}

// uploadRequest builds a PyPI legacy-upload multipart POST.  Empty fields are
// left out of the form entirely.
func uploadRequest(t *testing.T, target, action, protocolVersion, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if action != "" {
		require.NoError(t, form.WriteField(":action", action))
	}
	if protocolVersion != "" {
		require.NoError(t, form.WriteField("protocol_version", protocolVersion))
	}
	if filename != "" {
		part, err := form.CreateFormFile("content", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, target+"/", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req
}

func TestPublishListDownload(t *testing.T) {
	t.Parallel()
	_, nsURL := testServers(t)
	content := []byte("sdist served through the facade")

	resp, err := http.DefaultClient.Do(
		uploadRequest(t, nsURL, "file_upload", "1", "pyoci-0.1.0.tar.gz", content))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	// The listing is a parseable PEP 503 page linking the published file.
	resp, err = http.Get(nsURL + "/pyoci/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	base, err := url.Parse(nsURL + "/pyoci/")
	require.NoError(t, err)
	links, err := pep503.ParseIndex(resp.Body, base)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "pyoci-0.1.0.tar.gz", links[0].Text)

	resp, err = http.Get(links[0].HRef)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	downloaded, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

func TestListNormalizesPackageName(t *testing.T) {
	t.Parallel()
	_, nsURL := testServers(t)

	resp, err := http.DefaultClient.Do(uploadRequest(t, nsURL,
		"file_upload", "1", "pyoci_example-0.1.0.tar.gz", []byte("x")))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Request under the unnormalized spelling; the listing must still find
	// the package, and it links the normalized filename.
	resp, err = http.Get(nsURL + "/PyOCI.Example/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	base, err := url.Parse(nsURL + "/PyOCI.Example/")
	require.NoError(t, err)
	links, err := pep503.ParseIndex(resp.Body, base)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "pyoci-example-0.1.0.tar.gz", links[0].Text)

	// The normalized filename resolves even though the distribution segment
	// now contains "-".
	resp, err = http.Get(links[0].HRef)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	downloaded, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), downloaded)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()
	_, nsURL := testServers(t)

	testcases := map[string]struct {
		Action          string
		ProtocolVersion string
		Filename        string
		Content         []byte
		ExpectedMsg     string
	}{
		"missing-action": {
			ProtocolVersion: "1",
			Filename:        "pyoci-0.1.0.tar.gz",
			Content:         []byte("x"),
			ExpectedMsg:     "missing ':action' form-field",
		},
		"wrong-action": {
			Action:          "submit",
			ProtocolVersion: "1",
			Filename:        "pyoci-0.1.0.tar.gz",
			Content:         []byte("x"),
			ExpectedMsg:     "invalid ':action' form-field",
		},
		"missing-protocol-version": {
			Action:      "file_upload",
			Filename:    "pyoci-0.1.0.tar.gz",
			Content:     []byte("x"),
			ExpectedMsg: "missing 'protocol_version' form-field",
		},
		"wrong-protocol-version": {
			Action:          "file_upload",
			ProtocolVersion: "2",
			Filename:        "pyoci-0.1.0.tar.gz",
			Content:         []byte("x"),
			ExpectedMsg:     "invalid 'protocol_version' form-field",
		},
		"missing-content": {
			Action:          "file_upload",
			ProtocolVersion: "1",
			ExpectedMsg:     "missing 'content' form-field",
		},
		"empty-content": {
			Action:          "file_upload",
			ProtocolVersion: "1",
			Filename:        "pyoci-0.1.0.tar.gz",
			ExpectedMsg:     "no 'content' provided",
		},
		"invalid-filename": {
			Action:          "file_upload",
			ProtocolVersion: "1",
			Filename:        "not-a-package.zip",
			Content:         []byte("x"),
			ExpectedMsg:     "invalid distribution filename",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			resp, err := http.DefaultClient.Do(uploadRequest(t, nsURL,
				tc.Action, tc.ProtocolVersion, tc.Filename, tc.Content))
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), tc.ExpectedMsg)
		})
	}
}

func TestPublishTooLarge(t *testing.T) {
	t.Parallel()
	reg := httptest.NewServer(registry.New(registry.Logger(log.New(testLogWriter{t}, "", 0))))
	t.Cleanup(reg.Close)

	handler := simple.NewHandler()
	handler.MaxUploadBytes = 1024
	facade := httptest.NewServer(handler)
	t.Cleanup(facade.Close)
	nsURL := facade.URL + "/" + url.PathEscape(reg.URL) + "/acme"

	resp, err := http.DefaultClient.Do(uploadRequest(t, nsURL,
		"file_upload", "1", "pyoci-0.1.0.tar.gz", bytes.Repeat([]byte("a"), 4096)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadUnknownPackage(t *testing.T) {
	t.Parallel()
	_, nsURL := testServers(t)

	resp, err := http.Get(nsURL + "/pyoci/pyoci-9.9.9.tar.gz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestAuthRequired checks that a registry demanding credentials surfaces as
// 401 with a basic-auth challenge when the request carried none.
func TestAuthRequired(t *testing.T) {
	t.Parallel()
	authed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer realm="%s/token",service="test"`, "https://auth.invalid"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(authed.Close)

	facade := httptest.NewServer(simple.NewHandler())
	t.Cleanup(facade.Close)

	resp, err := http.Get(facade.URL + "/" + url.PathEscape(authed.URL) + "/acme/pyoci/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="pyoci"`, resp.Header.Get("WWW-Authenticate"))

	// The download route maps missing credentials the same way; the index
	// lookup must not turn the auth failure into a 404.
	resp, err = http.Get(facade.URL + "/" + url.PathEscape(authed.URL) + "/acme/pyoci/pyoci-0.1.0.tar.gz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="pyoci"`, resp.Header.Get("WWW-Authenticate"))
}
