// Package server composes a Protocol and a ServiceDiscovery and owns their
// combined lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rescp17/devicediscovery/pkg/discovery"
	"github.com/rescp17/devicediscovery/pkg/protocol"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// State is the lifecycle state of a Server.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Server runs one protocol and advertises it with one discovery mechanism.
// The protocol is always bound before the service is advertised and the
// advertisement is withdrawn before the socket closes.
type Server struct {
	name      string
	discovery discovery.ServiceDiscovery
	protocol  protocol.Protocol
	listener  *protocol.EventListener

	mu    sync.Mutex
	state atomic.Int32
}

// New wires a Server from cfg. It fails with ErrConfiguration or
// ErrNetworkUnavailable and acquires nothing in that case.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ip, err := cfg.AddressResolver()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	if ip == nil {
		return nil, fmt.Errorf("%w: no local address", ErrNetworkUnavailable)
	}

	pcfg := protocol.Config{
		Host:            ip.String(),
		Port:            cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CallbackLimit:   cfg.CallbackLimit,
		MaxConnections:  cfg.MaxConnections,
	}
	kind, _ := cfg.protocolKind()
	var p protocol.Protocol
	switch kind {
	case fileExchange:
		p = protocol.NewHTTP(pcfg, cfg.CacheDir)
	case staticHosting:
		p = protocol.NewHTTPHost(pcfg, cfg.RootDir, cfg.DefaultDocument)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %s", ErrConfiguration, cfg.Protocol)
	}

	var d discovery.ServiceDiscovery
	switch discoveryVariants[cfg.Discovery] {
	case networkDiscovery:
		d = discovery.NewNetworkServiceDiscovery(cfg.Registrar, cfg.Name, cfg.Protocol, cfg.Layer, map[string]string{
			"path":   "/",
			"scheme": p.Scheme(),
		})
	default:
		return nil, fmt.Errorf("%w: unsupported discovery method %s", ErrConfiguration, cfg.Discovery)
	}

	return newServer(cfg.Name, d, p, cfg.Listener), nil
}

func newServer(name string, d discovery.ServiceDiscovery, p protocol.Protocol, l *protocol.EventListener) *Server {
	return &Server{
		name:      name,
		discovery: d,
		protocol:  p,
		listener:  l,
	}
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	slog.Debug("Server state changed", "name", s.name, "state", st.String())
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Address reports the bound address while the protocol is running.
func (s *Server) Address() (transport.Address, bool) {
	return s.protocol.Address()
}

// Start binds the protocol, then advertises it. It is a no-op while running.
// A bind failure is returned and leaves the server Failed; a discovery
// failure is only logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st == Starting || st == Running {
		return nil
	}
	s.setState(Starting)

	if err := s.protocol.Start(s.listener); err != nil {
		s.setState(Failed)
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}
	addr, ok := s.protocol.Address()
	if !ok {
		s.setState(Failed)
		return fmt.Errorf("failed to start %s: protocol did not report an address", s.name)
	}

	if err := s.discovery.Start(addr); err != nil {
		slog.Error("Service discovery failed to start, serving without advertisement", "name", s.name, "address", addr.String(), "error", err)
	}
	s.setState(Running)
	slog.Info("Server started", "name", s.name, "address", addr.String())
	return nil
}

// Stop withdraws the advertisement, then closes the socket. It is a no-op
// unless the server is running. Stop returns once in-flight requests have
// drained, which can take up to the shutdown timeout plus the time the
// discovery backend needs to unregister; callers that must not wait run it
// in a goroutine (or use Run) and observe State.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Running {
		return nil
	}
	s.setState(Stopping)
	s.discovery.Stop()
	err := s.protocol.Stop()
	s.setState(Stopped)
	slog.Info("Server stopped", "name", s.name)
	return err
}

// Run starts the server, blocks until ctx is done and stops it again.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}
