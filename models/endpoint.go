package models

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Endpoint is the network identity of a traced service.
type Endpoint struct {
	ServiceName string
	IPv4        uint32
	Port        uint16
}

// UnknownEndpoint is used until a peer address has been recorded.
var UnknownEndpoint = Endpoint{}

// IsUnknown reports whether no address or port has been set.
func (e Endpoint) IsUnknown() bool {
	return e.IPv4 == 0 && e.Port == 0
}

// WithServiceName returns a copy of e carrying serviceName.
func (e Endpoint) WithServiceName(serviceName string) Endpoint {
	e.ServiceName = serviceName
	return e
}

// WithAddress returns a copy of e with the address and port of o, keeping
// the service name of e.
func (e Endpoint) WithAddress(o Endpoint) Endpoint {
	e.IPv4 = o.IPv4
	e.Port = o.Port
	return e
}

// Addr returns the IPv4 address of the endpoint.
func (e Endpoint) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], e.IPv4)
	return netip.AddrFrom4(b)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.ServiceName, netip.AddrPortFrom(e.Addr(), e.Port))
}

// EndpointFromAddrPort builds an Endpoint from ap. IPv6 addresses that are
// not IPv4-mapped are recorded as the zero address.
func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	var ipv4 uint32
	if addr := ap.Addr().Unmap(); addr.Is4() {
		b := addr.As4()
		ipv4 = binary.BigEndian.Uint32(b[:])
	}
	return Endpoint{IPv4: ipv4, Port: ap.Port()}
}

// MakeEndpoint takes the hostport and service name that represent a Zipkin
// service and resolves them into an Endpoint. Host names are looked up and
// the first IPv4 address wins.
func MakeEndpoint(hostport, serviceName string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return UnknownEndpoint, err
	}

	portInt, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return UnknownEndpoint, fmt.Errorf("invalid port %q: %w", port, err)
	}

	var addr4 netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addr4 = ip.Unmap()
	} else {
		addrs, err := net.LookupIP(host)
		if err != nil {
			return UnknownEndpoint, err
		}
		for i := range addrs {
			if a := addrs[i].To4(); a != nil {
				addr4, _ = netip.AddrFromSlice(a)
				break
			}
		}
	}

	ep := EndpointFromAddrPort(netip.AddrPortFrom(addr4, uint16(portInt)))
	ep.ServiceName = serviceName
	return ep, nil
}
