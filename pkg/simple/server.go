// Package simple exposes pyoci through the PyPI simple repository protocol,
// so that pip, poetry, and twine style tools can talk to an OCI registry
// without knowing it is one.
//
// The first path segment selects the registry, the second the namespace
// within it; both travel percent-encoded.  Registry credentials ride in on
// the request's basic-auth header and are forwarded per request, the server
// itself holds no credentials.
//
// https://packaging.python.org/specifications/simple-repository-api/
package simple

import (
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/datawire/dlib/dlog"

	"github.com/pyoci/pyoci/pkg/oci"
	"github.com/pyoci/pyoci/pkg/python/distfile"
	"github.com/pyoci/pyoci/pkg/python/pep503"
	"github.com/pyoci/pyoci/pkg/pyoci"
)

// DefaultMaxUploadBytes caps the size of a published file.
const DefaultMaxUploadBytes = 50 * 1024 * 1024

// Handler serves the simple-repository API.
type Handler struct {
	mux *http.ServeMux

	// MaxUploadBytes caps publish request bodies.  Zero means
	// DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// NewHandler returns a ready-to-serve Handler.
func NewHandler() *Handler {
	h := &Handler{
		mux: http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /{registry}/{namespace}/{package}/{$}", h.listPackage)
	h.mux.HandleFunc("GET /{registry}/{namespace}/{package}/{filename}", h.downloadPackage)
	h.mux.HandleFunc("POST /{registry}/{namespace}/{$}", h.publishPackage)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dlog.Infof(r.Context(), "%s %s", r.Method, r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

// client builds a registry client from the request's path and basic-auth
// credentials.
func (h *Handler) client(r *http.Request) (*oci.Client, error) {
	username, password, _ := r.BasicAuth()
	return oci.NewClient(r.PathValue("registry"), username, password)
}

var listTemplate = template.Must(template.New("list-package").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta name="pypi:repository-version" content="1.0">
    <title>Links for {{ .Package }}</title>
  </head>
  <body>
    <h1>Links for {{ .Package }}</h1>
{{- range .Files }}
    <a href="{{ .HRef }}">{{ .Filename }}</a><br>
{{- end }}
  </body>
</html>
`))

type fileLink struct {
	Filename string
	HRef     string
}

func (h *Handler) listPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.client(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer client.Close()

	pkg := distfile.Name{
		Distribution: pep503.Normalize(r.PathValue("package")),
		Namespace:    r.PathValue("namespace"),
	}
	files, err := pyoci.List(ctx, client, pkg)
	if err != nil {
		writeError(w, r, err)
		return
	}

	links := make([]fileLink, 0, len(files))
	for _, file := range files {
		links = append(links, fileLink{
			Filename: file.Filename(),
			HRef:     file.Filename(),
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listTemplate.Execute(w, map[string]any{
		"Package": pkg.Distribution,
		"Files":   links,
	}); err != nil {
		dlog.Errorf(ctx, "rendering package list: %v", err)
	}
}

func (h *Handler) downloadPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.client(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer client.Close()

	// The filename in a listing uses the normalized distribution name, which
	// may contain "-"; the package path segment disambiguates it.
	pkg, err := distfile.ParseFor(r.PathValue("namespace"), r.PathValue("package"), r.PathValue("filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	content, err := pyoci.Pull(ctx, client, pkg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(content); err != nil {
		dlog.Errorf(ctx, "writing %s: %v", pkg, err)
	}
}

// publishPackage implements the PyPI legacy upload API.
//
// https://warehouse.pypa.io/api-reference/legacy.html#upload-api
func (h *Handler) publishPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxBytes := h.MaxUploadBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	switch action := r.PostFormValue(":action"); action {
	case "file_upload":
	case "":
		writeStatus(w, http.StatusBadRequest, "missing ':action' form-field")
		return
	default:
		writeStatus(w, http.StatusBadRequest, "invalid ':action' form-field")
		return
	}
	switch version := r.PostFormValue("protocol_version"); version {
	case "1":
	case "":
		writeStatus(w, http.StatusBadRequest, "missing 'protocol_version' form-field")
		return
	default:
		writeStatus(w, http.StatusBadRequest, "invalid 'protocol_version' form-field")
		return
	}
	file, header, err := r.FormFile("content")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "missing 'content' form-field")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeStatus(w, http.StatusBadRequest, "'content' form-field is missing a 'filename'")
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "unreadable 'content' form-field")
		return
	}
	if len(content) == 0 {
		writeStatus(w, http.StatusBadRequest, "no 'content' provided")
		return
	}

	client, err := h.client(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer client.Close()

	if err := pyoci.PublishBytes(ctx, client, header.Filename, r.PathValue("namespace"), content); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, http.StatusOK, "published")
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

// writeError maps core errors onto HTTP statuses: missing credentials turn
// into 401, registry statuses are forwarded, bad names are the client's
// fault, everything else is ours.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var authErr *oci.AuthenticationError
	var httpError *oci.HTTPError
	var nameErr *distfile.InvalidNameError
	var archErr *distfile.InvalidArchitectureError
	switch {
	case errors.As(err, &authErr):
		w.Header().Set("WWW-Authenticate", `Basic realm="pyoci"`)
		writeStatus(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &httpError):
		writeStatus(w, httpError.StatusCode, err.Error())
	case errors.As(err, &nameErr), errors.As(err, &archErr):
		writeStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pyoci.ErrUnknownPackage), errors.Is(err, pyoci.ErrUnknownArtifactType):
		writeStatus(w, http.StatusNotFound, err.Error())
	default:
		dlog.Errorf(ctx, "%s %s: %v", r.Method, r.URL.Path, err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
	}
}
