package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/concurrency"
	"github.com/rescp17/devicediscovery/pkg/discovery"
	"github.com/rescp17/devicediscovery/pkg/protocol"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// AddressResolver returns the local address the server binds to.
type AddressResolver func() (net.IP, error)

// Config is the complete, immutable description of a Server. Build one with
// Builder or start from DefaultConfig.
type Config struct {
	Name      string
	Protocol  transport.Protocol
	Layer     transport.Layer
	Discovery transport.DiscoveryMethod
	Port      transport.Port

	// Listener receives file exchange callbacks. Static hosting ignores it.
	Listener *protocol.EventListener

	// CacheDir stores uploads until they are handed to the listener.
	CacheDir string
	// RootDir is the tree served by static hosting.
	RootDir         string
	DefaultDocument string

	ShutdownTimeout time.Duration
	// CallbackLimit bounds listener callbacks running at once. Callbacks that
	// never return keep their slot, and once all are taken every route waits.
	CallbackLimit  int
	MaxConnections int

	AddressResolver AddressResolver
	// Registrar is the DNS-SD backend. Nil selects the multicast DNS responder.
	Registrar discovery.Adapter
}

const DefaultMaxConnections = 256

// DefaultConfig returns the defaults every Builder starts from. The
// required fields (name, protocol, layer, discovery method, port) are unset.
func DefaultConfig() Config {
	return Config{
		CacheDir:        filepath.Join(os.TempDir(), "devicediscovery-cache"),
		DefaultDocument: protocol.DefaultDocument,
		ShutdownTimeout: 5 * time.Second,
		CallbackLimit:   concurrency.DefaultLimit,
		MaxConnections:  DefaultMaxConnections,
		AddressResolver: util.LocalIPv4,
	}
}

type protocolKind int

const (
	fileExchange protocolKind = iota + 1
	staticHosting
)

// protocolVariants is the closed set of protocol implementations.
var protocolVariants = map[transport.Protocol]protocolKind{
	transport.ProtocolHTTP:        fileExchange,
	transport.ProtocolHTTPHosting: staticHosting,
}

type discoveryKind int

const (
	networkDiscovery discoveryKind = iota + 1
)

var discoveryVariants = map[transport.DiscoveryMethod]discoveryKind{
	transport.DNSServiceDiscovery: networkDiscovery,
}

func (c Config) protocolKind() (protocolKind, bool) {
	if c.Layer != transport.LayerTCP {
		return 0, false
	}
	kind, ok := protocolVariants[c.Protocol]
	return kind, ok
}

// Validate checks every field and reports all problems at once, wrapped in
// ErrConfiguration.
func (c Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.Protocol.Name == "" {
		errs = append(errs, errors.New("transport protocol is required"))
	}
	if c.Layer.Name == "" {
		errs = append(errs, errors.New("transport layer is required"))
	}
	if c.Discovery == 0 {
		errs = append(errs, errors.New("discovery method is required"))
	} else if _, ok := discoveryVariants[c.Discovery]; !ok {
		errs = append(errs, fmt.Errorf("unsupported discovery method %s", c.Discovery))
	}
	if err := c.Port.Validate(); err != nil {
		errs = append(errs, err)
	}

	kind, ok := c.protocolKind()
	if c.Protocol.Name != "" && c.Layer.Name != "" && !ok {
		errs = append(errs, fmt.Errorf("unsupported protocol %s over %s", c.Protocol, c.Layer))
	}
	switch kind {
	case fileExchange:
		if c.CacheDir == "" {
			errs = append(errs, errors.New("cache directory is required for file exchange"))
		}
	case staticHosting:
		if c.RootDir == "" {
			errs = append(errs, errors.New("root directory is required for static hosting"))
		}
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.CallbackLimit <= 0 {
		errs = append(errs, errors.New("callback limit must be positive"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max connections cannot be negative"))
	}
	if c.AddressResolver == nil {
		errs = append(errs, errors.New("address resolver is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
