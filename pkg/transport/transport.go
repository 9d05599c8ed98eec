// Package transport holds the immutable descriptors used to configure a server
// and to derive its DNS-SD service type.
package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Protocol identifies the application protocol a server speaks.
// Subtype distinguishes variants sharing a wire protocol, e.g. "hosting".
type Protocol struct {
	Name    string
	Subtype string
}

var (
	ProtocolHTTP         = Protocol{Name: "http"}
	ProtocolHTTPHosting  = Protocol{Name: "http", Subtype: "hosting"}
	ProtocolMulticastDNS = Protocol{Name: "mdns"}
)

// CustomProtocol returns a descriptor for a protocol without a subtype.
func CustomProtocol(name string) Protocol {
	return Protocol{Name: name}
}

func (p Protocol) String() string {
	if p.Subtype == "" {
		return p.Name
	}
	return p.Name + "+" + p.Subtype
}

// Layer identifies the transport layer, e.g. "tcp".
type Layer struct {
	Name string
}

var (
	LayerTCP = Layer{Name: "tcp"}
	LayerUDP = Layer{Name: "udp"}
)

func CustomLayer(name string) Layer {
	return Layer{Name: name}
}

func (l Layer) String() string {
	return l.Name
}

// ServiceType derives the DNS-SD service type, e.g. "_http._tcp".
// Peers match on this exact string.
func ServiceType(p Protocol, l Layer) string {
	return "_" + p.Name + "._" + l.Name
}

// Port is a listening port. Zero lets the OS choose.
type Port int

const AutoPort Port = 0

// IsAuto reports whether the port is resolved at bind time.
func (p Port) IsAuto() bool {
	return p == AutoPort
}

// Validate checks the port is within the TCP/UDP range.
func (p Port) Validate() error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d out of range [0, 65535]", int(p))
	}
	return nil
}

// DiscoveryMethod selects the advertisement mechanism.
// The zero value means "unset".
type DiscoveryMethod int

const (
	DNSServiceDiscovery DiscoveryMethod = iota + 1
)

func (m DiscoveryMethod) String() string {
	switch m {
	case DNSServiceDiscovery:
		return "dns-sd"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// Address is the concrete scheme/host/port a protocol resolved once bound.
type Address struct {
	Scheme string
	Host   string
	Port   int
}

// AddressFromNet builds an Address from a bound listener address.
func AddressFromNet(scheme string, addr net.Addr) (Address, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Address{}, fmt.Errorf("failed to split listener address %q: %w", addr.String(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid listener port %q: %w", portStr, err)
	}
	return Address{Scheme: scheme, Host: host, Port: port}, nil
}

// HostPort returns "host:port" suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL returns the base URL of the address.
func (a Address) URL() *url.URL {
	return &url.URL{Scheme: a.Scheme, Host: a.HostPort(), Path: "/"}
}

func (a Address) String() string {
	return a.Scheme + "://" + a.HostPort()
}
