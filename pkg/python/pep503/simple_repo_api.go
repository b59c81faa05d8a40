// Package pep503 implements the pieces of PEP 503 -- Simple Repository API --
// that pyoci needs: project name normalization and parsing of the HTML file
// index served by a simple repository.
//
// https://peps.python.org/pep-0503/
package pep503

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/pyoci/pyoci/pkg/htmlutil"
)

var reNormalize = regexp.MustCompile(`[-_.]+`)

// Normalize normalizes a project name: lowercase, with runs of `-`, `_`, and
// `.` collapsed to a single `-`.
func Normalize(name string) string {
	return strings.ToLower(reNormalize.ReplaceAllLiteralString(name, "-"))
}

// A Link is one <a> element of a simple-repository index page.
type Link struct {
	Text      string
	HRef      string
	DataAttrs map[string]string
}

// ParseIndex extracts the links from a simple-repository HTML page.  base, if
// non-nil, is used to resolve relative hrefs.
func ParseIndex(r io.Reader, base *url.URL) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []Link
	err = htmlutil.Visit(doc, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}
		link := Link{
			Text:      htmlutil.Text(node),
			DataAttrs: make(map[string]string),
		}
		if href, ok := htmlutil.GetAttr(node, "href"); ok {
			link.HRef = href
			if base != nil {
				if resolved, err := base.Parse(href); err == nil {
					link.HRef = resolved.String()
				}
			}
		}
		for _, attr := range node.Attr {
			if attr.Namespace == "" && strings.HasPrefix(attr.Key, "data-") {
				link.DataAttrs[attr.Key] = attr.Val
			}
		}
		links = append(links, link)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// Client is a minimal simple-repository client, used to consume indexes
// served by pyoci itself or by any other PEP 503 repository.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

func (c *Client) fillDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/pyoci/pyoci/pkg/python/pep503"
	}
}

// HTTPError is a non-200 response from the repository.
type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

func (c Client) get(ctx context.Context, requestURL string) (_ *url.URL, _ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
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

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}
	return resp.Request.URL, content, nil
}

// ListFiles returns the file links for pkgname.
func (c Client) ListFiles(ctx context.Context, pkgname string) ([]Link, error) {
	c.fillDefaults()
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, Normalize(pkgname)) + "/"
	location, content, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return ParseIndex(bytes.NewReader(content), location)
}

// GetFile downloads the file behind a link.
func (c Client) GetFile(ctx context.Context, link Link) ([]byte, error) {
	_, content, err := c.get(ctx, link.HRef)
	return content, err
}
