package server

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/livereload"
	"github.com/conneroisu/sitepipe/internal/logging"
)

// clientTag loads the live-reload client.
var clientTag = []byte(`<script src="` + livereload.ScriptPath + `" async></script>`)

// newProxy forwards requests to target under target's own host name, so
// name-based virtual hosts answer, and injects the client into HTML.
func newProxy(target *url.URL, logger logging.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	proxy.Transport = transport

	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		// The body may be rewritten, so it must arrive uncompressed.
		r.Header.Del("Accept-Encoding")
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		rewriteLocation(resp, target)
		return injectResponse(resp)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		perr := sperrors.NewNetworkError("PROXY", fmt.Sprintf("%s is unreachable", target.Host), err)
		logger.Warn(r.Context(), perr, "Proxy request failed", "path", r.URL.Path)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		if err := errorPage(target.String(), r.URL.RequestURI(), err).Render(r.Context(), w); err != nil {
			logger.Warn(r.Context(), err, "Rendering proxy error page failed")
		}
	}

	return proxy
}

// rewriteLocation turns redirects to the backend's own address into
// relative ones so the browser stays on the dev server.
func rewriteLocation(resp *http.Response, target *url.URL) {
	location := resp.Header.Get("Location")
	if location == "" {
		return
	}
	loc, err := url.Parse(location)
	if err != nil || !strings.EqualFold(loc.Host, target.Host) {
		return
	}
	loc.Scheme, loc.Host, loc.User = "", "", nil
	if loc.Path == "" {
		loc.Path = "/"
	}
	resp.Header.Set("Location", loc.String())
}

// injectResponse adds the client to uncompressed HTML bodies and fixes up
// the length headers.
func injectResponse(resp *http.Response) error {
	if !isHTML(resp.Header.Get("Content-Type")) || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading upstream body: %w", err)
	}

	body = InjectScript(body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Transfer-Encoding")
	return nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

// InjectScript inserts the live-reload client tag before the last </body>
// of page, or appends it when the page has none. Closing tags inside
// scripts, comments and attribute values are not mistaken for the body's.
func InjectScript(page []byte) []byte {
	at := -1
	offset := 0

	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				at = offset
			}
		}
		offset += raw
	}

	out := make([]byte, 0, len(page)+len(clientTag))
	if at < 0 {
		out = append(out, page...)
		return append(out, clientTag...)
	}
	out = append(out, page[:at]...)
	out = append(out, clientTag...)
	return append(out, page[at:]...)
}
