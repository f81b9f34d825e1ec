package collector

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// dstReader reads datagrams while also surfacing the packet's original
// destination address (IP_PKTINFO / IPV6_PKTINFO), so a collector bound
// to a wildcard address can still report which configured listen address
// an exporter actually targeted. A nil dst on a given read means the
// control message was unavailable, not an error.
type dstReader interface {
	ReadFrom(buf []byte) (n int, dst net.IP, src net.Addr, err error)
	SetReadDeadline(t time.Time) error
}

type v4DstReader struct{ pc *ipv4.PacketConn }

func (r *v4DstReader) ReadFrom(buf []byte) (int, net.IP, net.Addr, error) {
	n, cm, src, err := r.pc.ReadFrom(buf)
	if cm == nil {
		return n, nil, src, err
	}
	return n, cm.Dst, src, err
}

func (r *v4DstReader) SetReadDeadline(t time.Time) error { return r.pc.SetReadDeadline(t) }

type v6DstReader struct{ pc *ipv6.PacketConn }

func (r *v6DstReader) ReadFrom(buf []byte) (int, net.IP, net.Addr, error) {
	n, cm, src, err := r.pc.ReadFrom(buf)
	if cm == nil {
		return n, nil, src, err
	}
	return n, cm.Dst, src, err
}

func (r *v6DstReader) SetReadDeadline(t time.Time) error { return r.pc.SetReadDeadline(t) }

// newDstReader wraps conn so reads come back with the kernel-reported
// destination address attached. It returns nil if the platform rejects
// the control message request; readOne falls back to a plain
// conn.ReadFrom in that case, since this is a diagnostic enrichment,
// never load-bearing for decode correctness.
func newDstReader(conn *net.UDPConn, v6 bool) dstReader {
	if v6 {
		p := ipv6.NewPacketConn(conn)
		if err := p.SetControlMessage(ipv6.FlagDst, true); err != nil {
			return nil
		}
		return &v6DstReader{pc: p}
	}
	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
		return nil
	}
	return &v4DstReader{pc: p}
}
