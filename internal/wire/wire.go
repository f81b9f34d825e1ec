// Package wire decodes fixed-layout NetFlow v1/v5/v7 datagrams into
// canonical flow.Record values. Byte access is always explicit
// encoding/binary reads -- never struct casts over the received buffer --
// to avoid alignment and endianness assumptions.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

// commonHeaderSize is the size of the two fields (version, count) shared
// by every fixed-layout NetFlow header.
const commonHeaderSize = 4

// Version reads the version field of a received datagram without fully
// validating it. Callers must still check len(pkt) >= commonHeaderSize.
func Version(pkt []byte) uint16 {
	return binary.BigEndian.Uint16(pkt[0:2])
}

// ProtocolName renders an IP protocol number using gopacket's protocol
// name table, for peer-table dumps and log fields.
func ProtocolName(proto uint8) string {
	return layers.IPProtocol(proto).String()
}

// TCPFlagsString renders a raw cumulative TCP-flags byte the way gopacket
// formats layers.TCP, one letter per set flag.
func TCPFlagsString(flags uint8) string {
	const letters = "FSRPAUEC" // FIN SYN RST PSH ACK URG ECE CWR, LSB first
	out := make([]byte, 0, 8)
	for i := 0; i < 8; i++ {
		if flags&(1<<uint(i)) != 0 {
			out = append(out, letters[i])
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return string(out)
}

// Dispatch picks a decoder by the NetFlow version field in the common
// header and returns the flow records it contains. Unsupported versions
// (9, IPFIX/10, or anything else) are reported via *UnsupportedVersionError
// without touching peer invalid counters -- per spec.md §4.5/S5, an
// unknown version is logged as unsupported, not treated as malformed.
func Dispatch(pkt []byte, source xaddr.Addr, recvTime time.Time) ([]flow.Record, error) {
	if len(pkt) < commonHeaderSize {
		return nil, ErrShortPacket
	}
	switch Version(pkt) {
	case 1:
		return DecodeV1(pkt, source, recvTime)
	case 5:
		return DecodeV5(pkt, source, recvTime)
	case 7:
		return DecodeV7(pkt, source, recvTime)
	default:
		return nil, &UnsupportedVersionError{Version: Version(pkt)}
	}
}

// ErrShortPacket is returned when a datagram is too short to contain even
// the common version/count header.
var ErrShortPacket = fmt.Errorf("wire: packet shorter than common header")

// UnsupportedVersionError is returned for NetFlow versions this collector
// does not decode (v9, IPFIX, and anything else future).
type UnsupportedVersionError struct {
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("wire: unsupported netflow version %d", e.Version)
}

func baseFlow(source xaddr.Addr, recvTime time.Time) flow.Record {
	var r flow.Record
	r.Fields = flow.FieldAll
	r.Fields &^= flow.FieldTag // tag is assigned later by the filter evaluator
	r.Agent = source
	r.RecvTime = recvTime
	return r
}

func widen32(v uint32) uint64 {
	return uint64(v)
}
