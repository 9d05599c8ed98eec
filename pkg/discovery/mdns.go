package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
)

// MDNSAdapter implements Adapter with a multicast DNS responder.
type MDNSAdapter struct{}

func (m *MDNSAdapter) Announce(ctx context.Context, serviceInfo ServiceInfo) error {
	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   serviceInfo.Type,
		Domain: serviceInfo.Domain,
		Text:   serviceInfo.Text,
		Port:   serviceInfo.Port,
	}
	// Without explicit IPs the responder answers with every interface address.
	if serviceInfo.Addr != nil && !serviceInfo.Addr.IsUnspecified() {
		cfg.IPs = append(cfg.IPs, serviceInfo.Addr)
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}
	slog.Info("Service registered", "name", serviceInfo.Name, "type", serviceInfo.Type, "port", serviceInfo.Port)

	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}

	slog.Info("Service unregistered", "name", serviceInfo.Name, "type", serviceInfo.Type)
	return nil
}

// Discover browses for service (e.g. "_http._tcp.local.") and emits a full
// snapshot every time an instance appears or disappears. The channel is
// closed when ctx ends.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	var (
		mu      sync.Mutex
		entries = make(map[string]ServiceInfo)
		outCh   = make(chan DiscoveryResult, 10)
	)

	send := func(res DiscoveryResult) {
		select {
		case outCh <- res:
		case <-ctx.Done():
		}
	}

	snapshot := func() []ServiceInfo {
		services := make([]ServiceInfo, 0, len(entries))
		for _, entry := range entries {
			services = append(services, entry)
		}
		sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
		return services
	}

	key := func(e dnssd.BrowseEntry) string {
		return fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)
	}

	addFn := func(e dnssd.BrowseEntry) {
		info := ServiceInfo{
			Name:   e.Name,
			Type:   e.Type,
			Domain: e.Domain,
			Port:   e.Port,
			Text:   e.Text,
		}
		for _, ip := range e.IPs {
			if ip.To4() != nil {
				info.Addr = ip
				break
			}
		}
		if info.Addr == nil && len(e.IPs) > 0 {
			info.Addr = e.IPs[0]
		}
		mu.Lock()
		entries[key(e)] = info
		services := snapshot()
		mu.Unlock()
		send(DiscoveryResult{Services: services})
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, key(e))
		services := snapshot()
		mu.Unlock()
		send(DiscoveryResult{Services: services})
	}

	go func() {
		defer close(outCh)
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			send(DiscoveryResult{Error: fmt.Errorf("mDNS lookup failed: %w", err)})
		}
	}()

	return outCh
}
