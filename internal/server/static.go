package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/sitepipe/internal/logging"
)

// staticHandler serves the output directory when there is no backend to
// proxy. HTML pages get the live-reload client like proxied ones.
type staticHandler struct {
	dir    string
	files  http.Handler
	logger logging.Logger
}

func newStaticHandler(dir string, logger logging.Logger) *staticHandler {
	return &staticHandler{
		dir:    dir,
		files:  http.FileServer(http.Dir(dir)),
		logger: logger,
	}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		name = path.Join(name, "index.html")
	}
	if path.Ext(name) != ".html" {
		h.files.ServeHTTP(w, r)
		return
	}

	page, err := os.ReadFile(filepath.Join(h.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		h.files.ServeHTTP(w, r)
		return
	}
	if err != nil {
		h.logger.Warn(r.Context(), err, "Reading page failed", "path", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	w.Write(InjectScript(page))
}
