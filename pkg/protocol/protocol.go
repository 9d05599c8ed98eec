// Package protocol implements the wire behaviours a server can expose: a
// file exchange API driven by an EventListener, and static directory hosting.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/rescp17/devicediscovery/pkg/transport"
)

const SchemeHTTP = "http"

// ErrBind is returned by Start when the listening socket cannot be opened.
var ErrBind = errors.New("bind failed")

// Protocol is a wire behaviour bound to one listening socket.
type Protocol interface {
	Scheme() string
	// Start binds the socket and begins serving. It is a no-op while running.
	Start(listener *EventListener) error
	// Stop closes the socket. It is a no-op when not running.
	Stop() error
	// Address reports the bound address while running.
	Address() (transport.Address, bool)
}

// Config holds the settings shared by every protocol variant.
type Config struct {
	Host            string
	Port            transport.Port
	ShutdownTimeout time.Duration
	// CallbackLimit bounds listener callbacks running at once. Once every
	// slot is held by a slow callback, all routes wait for one to return.
	CallbackLimit int
	// MaxConnections caps simultaneously open connections. Zero means no cap.
	MaxConnections int
}

const defaultShutdownTimeout = 5 * time.Second

// engine owns the listening socket and http.Server of a protocol.
type engine struct {
	scheme          string
	host            string
	port            transport.Port
	shutdownTimeout time.Duration
	maxConns        int
	handler         http.Handler

	mu   sync.Mutex
	srv  *http.Server
	addr transport.Address
	done chan struct{}
}

func newEngine(cfg Config, handler http.Handler) *engine {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &engine{
		scheme:          SchemeHTTP,
		host:            cfg.Host,
		port:            cfg.Port,
		shutdownTimeout: timeout,
		maxConns:        cfg.MaxConnections,
		handler:         handler,
	}
}

// start binds and serves. onBound runs after the bind succeeded and before
// the first connection is accepted. started is false when already running.
func (e *engine) start(onBound func(addr transport.Address)) (started bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.srv != nil {
		return false, nil
	}

	hostPort := net.JoinHostPort(e.host, strconv.Itoa(int(e.port)))
	ln, err := net.Listen("tcp", hostPort)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrBind, hostPort, err)
	}
	addr, err := transport.AddressFromNet(e.scheme, ln.Addr())
	if err != nil {
		_ = ln.Close()
		return false, fmt.Errorf("%w: %w", ErrBind, err)
	}
	if e.maxConns > 0 {
		ln = netutil.LimitListener(ln, e.maxConns)
	}

	srv := &http.Server{
		Handler:           e.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.srv = srv
	e.addr = addr
	e.done = make(chan struct{})

	if onBound != nil {
		onBound(addr)
	}

	go func(done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "address", addr.String(), "error", err)
		}
	}(e.done)

	slog.Info("HTTP server listening", "address", addr.String())
	return true, nil
}

// stop closes the socket at once and gives in-flight requests up to the
// shutdown timeout before their connections are closed. onStopped runs under
// the same lock as onBound, so a concurrent start never observes it halfway.
func (e *engine) stop(onStopped func()) (stopped bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.srv == nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()
	if shutdownErr := e.srv.Shutdown(ctx); shutdownErr != nil {
		slog.Warn("HTTP server shutdown timed out, closing connections", "address", e.addr.String(), "error", shutdownErr)
		err = e.srv.Close()
	}
	<-e.done
	if onStopped != nil {
		onStopped()
	}

	slog.Info("HTTP server stopped", "address", e.addr.String())
	e.srv = nil
	e.addr = transport.Address{}
	e.done = nil
	return true, err
}

func (e *engine) address() (transport.Address, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr, e.srv != nil
}
