// Package xaddr provides a uniform, comparable representation of IPv4 and
// IPv6 exporter endpoints, used as the peer-table key.
package xaddr

import (
	"bytes"
	"fmt"
	"net"
)

// Family identifies the address family of an Addr.
type Family uint8

const (
	V4 Family = iota
	V6
)

// Addr is a tagged endpoint address: family, 4- or 16-byte value, and an
// optional IPv6 zone (scope id) for link-local addresses.
type Addr struct {
	Family Family
	bytes  [16]byte
	Zone   string
}

// FromNetIP builds an Addr from a net.IP, defaulting to V4 when the address
// has a 4-byte (or 4-in-16) representation.
func FromNetIP(ip net.IP) (Addr, error) {
	if ip4 := ip.To4(); ip4 != nil {
		var a Addr
		a.Family = V4
		copy(a.bytes[12:], ip4)
		return a, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		var a Addr
		a.Family = V6
		copy(a.bytes[:], ip16)
		return a, nil
	}
	return Addr{}, fmt.Errorf("xaddr: invalid IP %v", ip)
}

// FromUDPAddr builds an Addr from the source address of a received datagram.
func FromUDPAddr(ua *net.UDPAddr) (Addr, error) {
	a, err := FromNetIP(ua.IP)
	if err != nil {
		return Addr{}, err
	}
	a.Zone = ua.Zone
	return a, nil
}

// IP returns the net.IP representation of the address.
func (a Addr) IP() net.IP {
	if a.Family == V4 {
		ip := make(net.IP, 4)
		copy(ip, a.bytes[12:16])
		return ip
	}
	ip := make(net.IP, 16)
	copy(ip, a.bytes[:])
	return ip
}

func (a Addr) String() string {
	ip := a.IP()
	if a.Zone != "" {
		return ip.String() + "%" + a.Zone
	}
	return ip.String()
}

// Compare gives the total order (family, bytes, zone) spec.md requires for
// peer-table key comparisons.
func (a Addr) Compare(b Addr) int {
	if a.Family != b.Family {
		if a.Family < b.Family {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.bytes[:], b.bytes[:]); c != 0 {
		return c
	}
	if a.Zone != b.Zone {
		if a.Zone < b.Zone {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a sorts before b, for use with sort.Slice.
func (a Addr) Less(b Addr) bool {
	return a.Compare(b) < 0
}
