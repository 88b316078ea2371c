package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitepipe/internal/logging"
)

func TestInjectScript(t *testing.T) {
	tag := string(clientTag)

	testCases := []struct {
		name     string
		page     string
		expected string
	}{
		{
			name:     "before body end",
			page:     "<html><body><p>hi</p></body></html>",
			expected: "<html><body><p>hi</p>" + tag + "</body></html>",
		},
		{
			name:     "upper case tag",
			page:     "<HTML><BODY>x</BODY></HTML>",
			expected: "<HTML><BODY>x" + tag + "</BODY></HTML>",
		},
		{
			name:     "last body end wins",
			page:     "<body>a</body><body>b</body>",
			expected: "<body>a</body><body>b" + tag + "</body>",
		},
		{
			name:     "ignores body end inside script",
			page:     `<body><script>var s = "</body>";</script></body>`,
			expected: `<body><script>var s = "</body>";</script>` + tag + "</body>",
		},
		{
			name:     "ignores body end inside comment",
			page:     "<body>x</body><!-- </body> -->",
			expected: "<body>x" + tag + "</body><!-- </body> -->",
		},
		{
			name:     "appends without body",
			page:     "<p>fragment</p>",
			expected: "<p>fragment</p>" + tag,
		},
		{
			name:     "empty page",
			page:     "",
			expected: tag,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, string(InjectScript([]byte(tc.page))))
		})
	}
}

func TestRewriteLocation(t *testing.T) {
	target, err := url.Parse("http://quelle.test")
	require.NoError(t, err)

	testCases := []struct {
		location string
		expected string
	}{
		{"http://quelle.test/kontakt?x=1", "/kontakt?x=1"},
		{"http://QUELLE.test", "/"},
		{"https://example.com/a", "https://example.com/a"},
		{"/relative", "/relative"},
	}

	for _, tc := range testCases {
		t.Run(tc.location, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{"Location": {tc.location}}}
			rewriteLocation(resp, target)
			assert.Equal(t, tc.expected, resp.Header.Get("Location"))
		})
	}
}

func newTestProxy(t *testing.T, backend http.Handler) (front, upstream *httptest.Server) {
	t.Helper()
	upstream = httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	front = httptest.NewServer(newProxy(target, logging.NewDiscard()))
	t.Cleanup(front.Close)
	return front, upstream
}

func get(t *testing.T, rawURL string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	// Keep the transport from asking for gzip on its own.
	client := &http.Client{
		Transport:     &http.Transport{DisableCompression: true},
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestProxyInjectsIntoHTML(t *testing.T) {
	var gotEncoding, gotHost string
	front, upstream := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		gotHost = r.Host
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body><h1>Quelle</h1></body></html>")
	}))

	resp, body := get(t, front.URL+"/index.php", http.Header{"Accept-Encoding": {"gzip, br"}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, gotEncoding)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), gotHost)
	assert.Equal(t, "<html><body><h1>Quelle</h1>"+string(clientTag)+"</body></html>", body)
	assert.Equal(t, int64(len(body)), resp.ContentLength)
}

func TestProxyPassesOtherContentThrough(t *testing.T) {
	front, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.css":
			w.Header().Set("Content-Type", "text/css")
			io.WriteString(w, "body{}</body>")
		case "/gz":
			w.Header().Set("Content-Type", "text/html")
			w.Header().Set("Content-Encoding", "gzip")
			io.WriteString(w, "not really gzip")
		}
	}))

	_, css := get(t, front.URL+"/app.css", nil)
	assert.Equal(t, "body{}</body>", css)

	_, gz := get(t, front.URL+"/gz", nil)
	assert.Equal(t, "not really gzip", gz)
}

func TestProxyRewritesRedirects(t *testing.T) {
	front, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The backend sees its own host name and redirects to it.
		http.Redirect(w, r, "http://"+r.Host+"/danke", http.StatusFound)
	}))

	resp, _ := get(t, front.URL+"/kontakt", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/danke", resp.Header.Get("Location"))
}

func TestProxyUnreachableRendersErrorPage(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close()

	front := httptest.NewServer(newProxy(target, logging.NewDiscard()))
	defer front.Close()

	resp, body := get(t, front.URL+"/seite?a=b", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "502 Bad Gateway")
	assert.Contains(t, body, "/seite?a=b")
	assert.Contains(t, body, string(clientTag))
}

func TestErrorPageEscapesRequest(t *testing.T) {
	var b strings.Builder
	page := errorPage("http://quelle.test", "/suche?q=<b>", errors.New("dial tcp: connection refused"))
	require.NoError(t, page.Render(context.Background(), &b))

	body := b.String()
	assert.True(t, strings.HasPrefix(body, "<!doctype html>"))
	assert.Contains(t, body, "<code>http://quelle.test</code>")
	assert.Contains(t, body, "/suche?q=&lt;b&gt;")
	assert.NotContains(t, body, "<b>")
	assert.Contains(t, body, "<pre>dial tcp: connection refused</pre>")
	assert.True(t, strings.HasSuffix(body, string(clientTag)+"</body></html>"))
}
