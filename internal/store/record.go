package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

// Encode serializes r per spec.md §6: a 4-byte fields bitmask, a 4-byte
// tag, then each optional substructure in fixed canonical order, present
// only if its bit is set. All integers are network byte order; 64-bit
// counters are written as two big-endian 32-bit halves, high word first.
func Encode(r *flow.Record) []byte {
	var buf bytes.Buffer
	buf.Grow(128)

	putU32(&buf, uint32(r.Fields))
	putU32(&buf, r.Tag)

	if r.Has(flow.FieldAgentAddr) {
		putAddr(&buf, r.Agent)
	}
	if r.Has(flow.FieldSrcAddr4) || r.Has(flow.FieldSrcAddr6) {
		putAddr(&buf, r.Src)
	}
	if r.Has(flow.FieldDstAddr4) || r.Has(flow.FieldDstAddr6) {
		putAddr(&buf, r.Dst)
	}
	if r.Has(flow.FieldGatewayAddr4) || r.Has(flow.FieldGatewayAddr6) {
		putAddr(&buf, r.Gateway)
	}
	if r.Has(flow.FieldPorts) {
		putU16(&buf, r.SrcPort)
		putU16(&buf, r.DstPort)
	}
	if r.Has(flow.FieldPacketsOctets) {
		putU64(&buf, r.Packets)
		putU64(&buf, r.Octets)
	}
	if r.Has(flow.FieldIfIndices) {
		putU32(&buf, r.IfIndexIn)
		putU32(&buf, r.IfIndexOut)
	}
	if r.Has(flow.FieldASInfo) {
		putU32(&buf, r.AS.SrcAS)
		putU32(&buf, r.AS.DstAS)
		buf.WriteByte(r.AS.SrcMask)
		buf.WriteByte(r.AS.DstMask)
	}
	if r.Has(flow.FieldFlowEngineInfo) {
		buf.WriteByte(r.Engine.Type)
		buf.WriteByte(r.Engine.ID)
		putU32(&buf, r.Engine.Sequence)
	}
	if r.Has(flow.FieldAgentInfo) {
		putU32(&buf, r.Exporter.SysUptimeMS)
		putU32(&buf, r.Exporter.ExportSecs)
		putU32(&buf, r.Exporter.ExportNsecs)
		buf.WriteByte(r.Exporter.NetflowVersion)
	}
	if r.Has(flow.FieldFlowTimes) {
		putU32(&buf, r.Times.StartMS)
		putU32(&buf, r.Times.FinishMS)
	}
	if r.Has(flow.FieldProtoFlags) {
		buf.WriteByte(r.TCPFlags)
		buf.WriteByte(r.Protocol)
		buf.WriteByte(r.ToS)
	}
	if r.Has(flow.FieldRecvTime) {
		putU64(&buf, uint64(r.RecvTime.UnixNano()))
	}

	return buf.Bytes()
}

// Decode parses one record from the front of buf, returning the record,
// the number of bytes consumed, and an error. Per spec.md §6, a reader
// that finds fewer bytes than a field's presence bit demands treats the
// remainder as a trailing partial record and should stop, not fail the
// whole log.
func Decode(buf []byte) (*flow.Record, int, error) {
	if len(buf) < 8 {
		return nil, 0, fmt.Errorf("store: truncated record header: %d bytes", len(buf))
	}
	r := &flow.Record{}
	r.Fields = flow.Fields(binary.BigEndian.Uint32(buf[0:4]))
	r.Tag = binary.BigEndian.Uint32(buf[4:8])
	off := 8

	need := func(n int) error {
		if off+n > len(buf) {
			return fmt.Errorf("store: truncated record body: need %d more bytes at offset %d", n, off)
		}
		return nil
	}

	if r.Has(flow.FieldAgentAddr) {
		a, n, err := getAddr(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		r.Agent = a
		off += n
	}
	if r.Has(flow.FieldSrcAddr4) || r.Has(flow.FieldSrcAddr6) {
		a, n, err := getAddr(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		r.Src = a
		off += n
	}
	if r.Has(flow.FieldDstAddr4) || r.Has(flow.FieldDstAddr6) {
		a, n, err := getAddr(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		r.Dst = a
		off += n
	}
	if r.Has(flow.FieldGatewayAddr4) || r.Has(flow.FieldGatewayAddr6) {
		a, n, err := getAddr(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		r.Gateway = a
		off += n
	}
	if r.Has(flow.FieldPorts) {
		if err := need(4); err != nil {
			return nil, 0, err
		}
		r.SrcPort = binary.BigEndian.Uint16(buf[off : off+2])
		r.DstPort = binary.BigEndian.Uint16(buf[off+2 : off+4])
		off += 4
	}
	if r.Has(flow.FieldPacketsOctets) {
		if err := need(16); err != nil {
			return nil, 0, err
		}
		r.Packets = binary.BigEndian.Uint64(buf[off : off+8])
		r.Octets = binary.BigEndian.Uint64(buf[off+8 : off+16])
		off += 16
	}
	if r.Has(flow.FieldIfIndices) {
		if err := need(8); err != nil {
			return nil, 0, err
		}
		r.IfIndexIn = binary.BigEndian.Uint32(buf[off : off+4])
		r.IfIndexOut = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	if r.Has(flow.FieldASInfo) {
		if err := need(10); err != nil {
			return nil, 0, err
		}
		r.AS.SrcAS = binary.BigEndian.Uint32(buf[off : off+4])
		r.AS.DstAS = binary.BigEndian.Uint32(buf[off+4 : off+8])
		r.AS.SrcMask = buf[off+8]
		r.AS.DstMask = buf[off+9]
		off += 10
	}
	if r.Has(flow.FieldFlowEngineInfo) {
		if err := need(6); err != nil {
			return nil, 0, err
		}
		r.Engine.Type = buf[off]
		r.Engine.ID = buf[off+1]
		r.Engine.Sequence = binary.BigEndian.Uint32(buf[off+2 : off+6])
		off += 6
	}
	if r.Has(flow.FieldAgentInfo) {
		if err := need(13); err != nil {
			return nil, 0, err
		}
		r.Exporter.SysUptimeMS = binary.BigEndian.Uint32(buf[off : off+4])
		r.Exporter.ExportSecs = binary.BigEndian.Uint32(buf[off+4 : off+8])
		r.Exporter.ExportNsecs = binary.BigEndian.Uint32(buf[off+8 : off+12])
		r.Exporter.NetflowVersion = buf[off+12]
		off += 13
	}
	if r.Has(flow.FieldFlowTimes) {
		if err := need(8); err != nil {
			return nil, 0, err
		}
		r.Times.StartMS = binary.BigEndian.Uint32(buf[off : off+4])
		r.Times.FinishMS = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	if r.Has(flow.FieldProtoFlags) {
		if err := need(3); err != nil {
			return nil, 0, err
		}
		r.TCPFlags = buf[off]
		r.Protocol = buf[off+1]
		r.ToS = buf[off+2]
		off += 3
	}
	if r.Has(flow.FieldRecvTime) {
		if err := need(8); err != nil {
			return nil, 0, err
		}
		r.RecvTime = time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:off+8]))).UTC()
		off += 8
	}

	return r, off, nil
}

// putAddr writes a 1-byte family tag (0=v4, 1=v6) followed by 4 or 16
// address bytes.
func putAddr(buf *bytes.Buffer, a xaddr.Addr) {
	if a.Family == xaddr.V4 {
		buf.WriteByte(0)
		buf.Write(a.IP().To4())
		return
	}
	buf.WriteByte(1)
	buf.Write(a.IP().To16())
}

func getAddr(buf []byte) (xaddr.Addr, int, error) {
	if len(buf) < 1 {
		return xaddr.Addr{}, 0, fmt.Errorf("store: truncated address tag")
	}
	switch buf[0] {
	case 0:
		if len(buf) < 5 {
			return xaddr.Addr{}, 0, fmt.Errorf("store: truncated v4 address")
		}
		a, err := xaddr.FromNetIP(buf[1:5])
		return a, 5, err
	case 1:
		if len(buf) < 17 {
			return xaddr.Addr{}, 0, fmt.Errorf("store: truncated v6 address")
		}
		a, err := xaddr.FromNetIP(buf[1:17])
		return a, 17, err
	default:
		return xaddr.Addr{}, 0, fmt.Errorf("store: bad address family tag %d", buf[0])
	}
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
