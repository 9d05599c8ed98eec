package util

import (
	"errors"
	"net"
)

// ErrNoLocalAddress is returned when no up, non-loopback interface carries an IPv4 address.
var ErrNoLocalAddress = errors.New("no local IPv4 address found")

var (
	listNetworkInterfaces = net.Interfaces
	interfaceAddrs        = func(iface *net.Interface) ([]net.Addr, error) {
		return iface.Addrs()
	}
)

// LocalIPv4 returns the first IPv4 address of an up, non-loopback interface.
// Link-local addresses are only used when nothing better exists.
func LocalIPv4() (net.IP, error) {
	interfaces, err := listNetworkInterfaces()
	if err != nil {
		return nil, err
	}

	var linkLocal net.IP
	for i := range interfaces {
		iface := &interfaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := interfaceAddrs(iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil || ipv4.IsLoopback() {
				continue
			}
			if ipv4.IsLinkLocalUnicast() {
				if linkLocal == nil {
					linkLocal = ipv4
				}
				continue
			}
			return ipv4, nil
		}
	}
	if linkLocal != nil {
		return linkLocal, nil
	}
	return nil, ErrNoLocalAddress
}
