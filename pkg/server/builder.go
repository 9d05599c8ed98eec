package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/rescp17/devicediscovery/pkg/discovery"
	"github.com/rescp17/devicediscovery/pkg/protocol"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

// Builder collects the settings of a Server. The zero value is not usable;
// call NewBuilder.
type Builder struct {
	cfg     Config
	portSet bool
}

func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) Name(name string) *Builder {
	b.cfg.Name = name
	return b
}

func (b *Builder) Protocol(p transport.Protocol) *Builder {
	b.cfg.Protocol = p
	return b
}

func (b *Builder) Layer(l transport.Layer) *Builder {
	b.cfg.Layer = l
	return b
}

func (b *Builder) Discovery(m transport.DiscoveryMethod) *Builder {
	b.cfg.Discovery = m
	return b
}

// Port sets the listening port; transport.AutoPort lets the OS pick one.
func (b *Builder) Port(p transport.Port) *Builder {
	b.cfg.Port = p
	b.portSet = true
	return b
}

func (b *Builder) Listener(l *protocol.EventListener) *Builder {
	b.cfg.Listener = l
	return b
}

func (b *Builder) CacheDir(dir string) *Builder {
	b.cfg.CacheDir = dir
	return b
}

func (b *Builder) RootDir(dir string) *Builder {
	b.cfg.RootDir = dir
	return b
}

func (b *Builder) DefaultDocument(name string) *Builder {
	b.cfg.DefaultDocument = name
	return b
}

func (b *Builder) ShutdownTimeout(d time.Duration) *Builder {
	b.cfg.ShutdownTimeout = d
	return b
}

func (b *Builder) CallbackLimit(n int) *Builder {
	b.cfg.CallbackLimit = n
	return b
}

// MaxConnections caps open connections; zero removes the cap.
func (b *Builder) MaxConnections(n int) *Builder {
	b.cfg.MaxConnections = n
	return b
}

func (b *Builder) AddressResolver(r AddressResolver) *Builder {
	b.cfg.AddressResolver = r
	return b
}

func (b *Builder) Registrar(a discovery.Adapter) *Builder {
	b.cfg.Registrar = a
	return b
}

// Config returns the validated configuration.
func (b *Builder) Config() (Config, error) {
	err := b.cfg.Validate()
	if !b.portSet {
		err = errors.Join(err, fmt.Errorf("%w: port is required", ErrConfiguration))
	}
	if err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// Build validates the configuration, resolves the local address and wires
// the selected protocol and discovery variants into a stopped Server.
func (b *Builder) Build() (*Server, error) {
	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}
