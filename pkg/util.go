package protocol

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// unmap turns IPv4-mapped IPv6 addresses into plain IPv4 so that peers compare equal no matter
// how the socket reported them.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// ResolvePeer parses a host name or address plus a port into a peer address.
func ResolvePeer(host string, port uint16) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(host)
	if err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "resolving %s", host)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return netip.AddrPortFrom(addr, port), nil
		}
	}
	return netip.AddrPort{}, &net.AddrError{Err: "no IPv4 address", Addr: host}
}

func formatPeer(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return "*"
	}
	return ap.String()
}
