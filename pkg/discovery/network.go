package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rescp17/devicediscovery/pkg/transport"
)

// ServiceDiscovery advertises a bound service and withdraws it again.
// Start is handed the address the protocol actually bound, so the
// advertised port is never a placeholder.
type ServiceDiscovery interface {
	Start(addr transport.Address) error
	Stop()
}

const unregisterTimeout = 5 * time.Second

// NetworkServiceDiscovery registers a named service with DNS-SD. Registration
// runs in the background; its outcome is only logged.
type NetworkServiceDiscovery struct {
	adapter     Adapter
	name        string
	serviceType string
	domain      string
	text        map[string]string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNetworkServiceDiscovery prepares a registration of name under the
// service type derived from protocol and layer.
func NewNetworkServiceDiscovery(adapter Adapter, name string, protocol transport.Protocol, layer transport.Layer, text map[string]string) *NetworkServiceDiscovery {
	if adapter == nil {
		adapter = &MDNSAdapter{}
	}
	return &NetworkServiceDiscovery{
		adapter:     adapter,
		name:        name,
		serviceType: transport.ServiceType(protocol, layer),
		domain:      DefaultDomain,
		text:        text,
	}
}

// ServiceType returns the DNS-SD type this registration uses.
func (d *NetworkServiceDiscovery) ServiceType() string {
	return d.serviceType
}

// Start registers the service. Calling it while a registration is active is a no-op.
func (d *NetworkServiceDiscovery) Start(addr transport.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		slog.Debug("Service already registered", "name", d.name, "type", d.serviceType)
		return nil
	}
	if addr.Port <= 0 {
		return fmt.Errorf("cannot register %s without a bound port", d.name)
	}

	info := ServiceInfo{
		Name:   d.name,
		Type:   d.serviceType,
		Domain: d.domain,
		Addr:   net.ParseIP(addr.Host),
		Port:   addr.Port,
		Text:   d.text,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	go func() {
		defer close(done)
		if err := d.adapter.Announce(ctx, info); err != nil {
			slog.Error("Service registration failed", "name", info.Name, "type", info.Type, "error", err)
		}
	}()
	return nil
}

// Stop withdraws the registration. It is safe to call when nothing is registered.
func (d *NetworkServiceDiscovery) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(unregisterTimeout):
		slog.Warn("Timed out waiting for service unregistration", "name", d.name, "type", d.serviceType)
	}
	d.cancel = nil
	d.done = nil
}
