// Package discovery advertises a running service on the local network and
// browses for peers advertising the same service type.
package discovery

import (
	"context"
	"io"
	"net"

	dnssdlog "github.com/brutella/dnssd/log"
)

const DefaultDomain = "local"

type ServiceInfo struct {
	Name   string // instance name, e.g. "Device Discovery Demo"
	Type   string // service type, e.g. "_http._tcp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// DiscoveryResult carries either a snapshot of the services currently
// visible or an error that ended the browse.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

// Adapter is the registration backend. Announce blocks while the service is
// advertised and withdraws it when ctx is cancelled.
type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// SetLibraryLogOutput redirects the dnssd library's own loggers.
func SetLibraryLogOutput(w io.Writer) {
	dnssdlog.Info.SetOutput(w)
	dnssdlog.Debug.SetOutput(w)
}
