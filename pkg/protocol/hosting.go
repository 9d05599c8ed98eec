package protocol

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

const DefaultDocument = "index.html"

// HTTPHost serves a directory tree read-only. Directory requests resolve to
// the default document. It never consults an EventListener.
type HTTPHost struct {
	engine          *engine
	rootDir         string
	defaultDocument string
	root            atomic.Pointer[os.Root]
}

// NewHTTPHost creates a static hosting protocol for rootDir. An empty
// defaultDocument falls back to index.html.
func NewHTTPHost(cfg Config, rootDir, defaultDocument string) *HTTPHost {
	if defaultDocument == "" {
		defaultDocument = DefaultDocument
	}
	h := &HTTPHost{
		rootDir:         rootDir,
		defaultDocument: defaultDocument,
	}
	mux := http.NewServeMux()
	mux.Handle("GET /", h)
	h.engine = newEngine(cfg, mux)
	return h
}

func (h *HTTPHost) Scheme() string {
	return SchemeHTTP
}

// Start opens the root directory and binds the socket. The listener is ignored.
func (h *HTTPHost) Start(_ *EventListener) error {
	if _, running := h.engine.address(); running {
		return nil
	}
	exists, isDir, err := util.CheckDirectory(h.rootDir)
	if err != nil {
		return fmt.Errorf("failed to check hosting root %s: %w", h.rootDir, err)
	}
	if !exists || !isDir {
		return fmt.Errorf("hosting root %s is not a directory", h.rootDir)
	}

	root, err := os.OpenRoot(h.rootDir)
	if err != nil {
		return fmt.Errorf("failed to open hosting root %s: %w", h.rootDir, err)
	}
	started, err := h.engine.start(func(transport.Address) {
		h.root.Store(root)
	})
	if err != nil || !started {
		_ = root.Close()
	}
	return err
}

func (h *HTTPHost) Stop() error {
	_, err := h.engine.stop(func() {
		if root := h.root.Swap(nil); root != nil {
			_ = root.Close()
		}
	})
	return err
}

func (h *HTTPHost) Address() (transport.Address, bool) {
	return h.engine.address()
}

// rootRelative maps a URL path onto a name inside the root. Paths with a
// ".." element are refused rather than cleaned.
func rootRelative(urlPath string) (string, bool) {
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", false
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "."
	}
	return name, true
}

func (h *HTTPHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	root := h.root.Load()
	if root == nil {
		serviceUnavailable(w)
		return
	}

	name, ok := rootRelative(r.URL.Path)
	if !ok {
		http.Error(w, "invalid URL path", http.StatusBadRequest)
		return
	}

	f, err := root.Open(name)
	if err != nil {
		h.openError(w, r, name, err)
		return
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		_ = f.Close()
		name = path.Join(name, h.defaultDocument)
		if f, err = root.Open(name); err != nil {
			h.openError(w, r, name, err)
			return
		}
		info, err = f.Stat()
	}
	defer f.Close()

	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", fileInfo.DetectMimeTypeReader(f))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *HTTPHost) openError(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	// os.Root reports symlinks leaving the root as errors, not as missing files.
	slog.Debug("Refused hosting request", "name", name, "error", err)
	http.Error(w, "forbidden", http.StatusForbidden)
}
