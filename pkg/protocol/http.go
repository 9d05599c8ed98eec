package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/concurrency"
	"github.com/rescp17/devicediscovery/pkg/fileInfo"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// HTTP is the file exchange protocol. It answers
//
//	GET /          and GET /data/*  with the file chosen by OnRequestFile
//	GET /text/*                     with the text returned by OnRequestText
//	POST /upload                    by storing every file part and calling OnPostFiles
//
// HEAD is answered for every GET route. Anything else is 404.
type HTTP struct {
	engine   *engine
	cacheDir string
	pool     *concurrency.Pool
	listener atomic.Pointer[EventListener]
}

// NewHTTP creates a file exchange protocol storing uploads in cacheDir.
// Nothing is bound until Start.
func NewHTTP(cfg Config, cacheDir string) *HTTP {
	h := &HTTP{
		cacheDir: cacheDir,
		pool:     concurrency.NewPool(cfg.CallbackLimit),
	}
	h.engine = newEngine(cfg, h.routes())
	return h
}

func (h *HTTP) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleFile)
	mux.HandleFunc("GET /data/", h.handleFile)
	mux.HandleFunc("GET /text/", h.handleText)
	mux.HandleFunc("POST /upload", h.handleUpload)
	mux.HandleFunc("/", http.NotFound)
	return mux
}

func (h *HTTP) Scheme() string {
	return SchemeHTTP
}

// Start installs listener and binds the socket. OnProtocolEstablished is
// invoked once, asynchronously, with the bound address.
func (h *HTTP) Start(listener *EventListener) error {
	if err := util.EnsureDirectory(h.cacheDir); err != nil {
		return err
	}
	started, err := h.engine.start(func(addr transport.Address) {
		h.listener.Store(listener)
	})
	if err != nil {
		return err
	}
	if !started {
		slog.Debug("HTTP protocol already running")
		return nil
	}

	if listener != nil && listener.OnProtocolEstablished != nil {
		addr, _ := h.engine.address()
		go func() {
			_ = h.pool.Go(context.Background(), func() {
				listener.OnProtocolEstablished(addr)
			})
		}()
	}
	return nil
}

// Stop closes the socket and detaches the listener. Requests already holding
// the listener finish normally, and running callbacks get the shutdown
// timeout to return.
func (h *HTTP) Stop() error {
	stopped, err := h.engine.stop(func() {
		h.listener.Store(nil)
	})
	if !stopped {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.engine.shutdownTimeout)
	defer cancel()
	if waitErr := h.pool.Wait(ctx); waitErr != nil {
		slog.Warn("Listener callbacks still running after stop", "error", waitErr)
	}
	return err
}

func (h *HTTP) Address() (transport.Address, bool) {
	return h.engine.address()
}

func requestURI(r *http.Request) *url.URL {
	u := *r.URL
	u.Scheme = SchemeHTTP
	u.Host = r.Host
	return &u
}

func logCallbackError(r *http.Request, callback string, err error) {
	switch {
	case errors.Is(err, ErrNoResult):
		slog.Debug("Listener returned no result", "callback", callback, "path", r.URL.Path)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("Request ended before listener answered", "callback", callback, "path", r.URL.Path)
	default:
		slog.Warn("Listener failed", "callback", callback, "path", r.URL.Path, "error", err)
	}
}

func serviceUnavailable(w http.ResponseWriter) {
	http.Error(w, "service unavailable", http.StatusServiceUnavailable)
}

func (h *HTTP) handleFile(w http.ResponseWriter, r *http.Request) {
	listener := h.listener.Load()
	if listener == nil {
		serviceUnavailable(w)
		return
	}
	if listener.OnRequestFile == nil {
		http.NotFound(w, r)
		return
	}

	uri := requestURI(r)
	path, err := concurrency.Call(r.Context(), h.pool, func(ctx context.Context) (string, error) {
		return listener.OnRequestFile(ctx, uri)
	})
	if err == nil && path == "" {
		err = ErrNoResult
	}
	if err != nil {
		logCallbackError(r, "OnRequestFile", err)
		http.NotFound(w, r)
		return
	}
	serveFile(w, r, path)
}

// serveFile streams a regular file. Directories are not resolved to an index
// document; that is up to the listener.
func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("File not available", "path", path, "error", err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", fileInfo.DetectMimeTypeReader(f))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *HTTP) handleText(w http.ResponseWriter, r *http.Request) {
	listener := h.listener.Load()
	if listener == nil {
		serviceUnavailable(w)
		return
	}
	if listener.OnRequestText == nil {
		http.NotFound(w, r)
		return
	}

	uri := requestURI(r)
	text, err := concurrency.Call(r.Context(), h.pool, func(ctx context.Context) (string, error) {
		return listener.OnRequestText(ctx, uri)
	})
	if err != nil {
		logCallbackError(r, "OnRequestText", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (h *HTTP) handleUpload(w http.ResponseWriter, r *http.Request) {
	listener := h.listener.Load()
	if listener == nil {
		serviceUnavailable(w)
		return
	}
	if listener.OnPostFiles == nil {
		http.Error(w, "uploads are not accepted", http.StatusBadRequest)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart/form-data body", http.StatusBadRequest)
		return
	}
	files := receiveParts(reader, h.cacheDir)

	// Stored parts belong to the listener, so it is called even when the
	// client went away mid-stream.
	ctx := r.Context()
	if len(files) > 0 {
		ctx = context.WithoutCancel(ctx)
	}
	text, err := concurrency.Call(ctx, h.pool, func(ctx context.Context) (string, error) {
		return listener.OnPostFiles(ctx, files)
	})
	if err != nil {
		logCallbackError(r, "OnPostFiles", err)
		http.Error(w, "upload rejected", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}
