package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

const (
	nf7HeaderSize = 24 // version, count, sys_uptime, unix_secs, unix_nsecs, flow_sequence, reserved
	nf7RecordSize = 48
	nf7MaxFlows   = 30
)

func nf7PacketSize(n int) int {
	return nf7HeaderSize + n*nf7RecordSize
}

// DecodeV7 validates and decodes a NetFlow v7 datagram per spec.md §4.2.
// v7 shares its record layout with v5 (Catalyst 5000 MLS NetFlow export)
// but carries no engine type/id; flows carry only a sequence number, read
// from the header.
func DecodeV7(pkt []byte, source xaddr.Addr, recvTime time.Time) ([]flow.Record, error) {
	if len(pkt) < nf7HeaderSize {
		return nil, fmt.Errorf("wire: short netflow v7 packet: %d bytes", len(pkt))
	}

	count := int(binary.BigEndian.Uint16(pkt[2:4]))
	if count == 0 || count > nf7MaxFlows {
		return nil, fmt.Errorf("wire: invalid v7 flow count %d", count)
	}
	if len(pkt) != nf7PacketSize(count) {
		return nil, fmt.Errorf("wire: inconsistent v7 packet: len %d expected %d",
			len(pkt), nf7PacketSize(count))
	}

	uptimeMS := binary.BigEndian.Uint32(pkt[4:8])
	unixSecs := binary.BigEndian.Uint32(pkt[8:12])
	unixNsecs := binary.BigEndian.Uint32(pkt[12:16])
	flowSeq := binary.BigEndian.Uint32(pkt[16:20])
	// pkt[20:24] is reserved in NetFlow v7's header (no engine type/id).

	records := make([]flow.Record, count)
	for i := 0; i < count; i++ {
		rec := pkt[nf7PacketSize(i):nf7PacketSize(i + 1)]
		r := baseFlow(source, recvTime)

		r.Fields &^= flow.FieldSrcAddr6 | flow.FieldDstAddr6 | flow.FieldGatewayAddr6
		r.Fields &^= flow.FieldFlowEngineInfo

		srcAddr, err := xaddr.FromNetIP(rec[0:4])
		if err != nil {
			return nil, fmt.Errorf("wire: v7 src addr: %w", err)
		}
		dstAddr, err := xaddr.FromNetIP(rec[4:8])
		if err != nil {
			return nil, fmt.Errorf("wire: v7 dst addr: %w", err)
		}
		gwAddr, err := xaddr.FromNetIP(rec[8:12])
		if err != nil {
			return nil, fmt.Errorf("wire: v7 gateway addr: %w", err)
		}
		r.Src, r.Dst, r.Gateway = srcAddr, dstAddr, gwAddr

		r.IfIndexIn = uint32(binary.BigEndian.Uint16(rec[12:14]))
		r.IfIndexOut = uint32(binary.BigEndian.Uint16(rec[14:16]))
		r.Packets = widen32(binary.BigEndian.Uint32(rec[16:20]))
		r.Octets = widen32(binary.BigEndian.Uint32(rec[20:24]))
		r.Times.StartMS = binary.BigEndian.Uint32(rec[24:28])
		r.Times.FinishMS = binary.BigEndian.Uint32(rec[28:32])
		r.SrcPort = binary.BigEndian.Uint16(rec[32:34])
		r.DstPort = binary.BigEndian.Uint16(rec[34:36])
		// rec[36] is padding
		r.TCPFlags = rec[37]
		r.Protocol = rec[38]
		r.ToS = rec[39]
		r.AS.SrcAS = uint32(binary.BigEndian.Uint16(rec[40:42]))
		r.AS.DstAS = uint32(binary.BigEndian.Uint16(rec[42:44]))
		r.AS.SrcMask = rec[44]
		r.AS.DstMask = rec[45]
		// rec[46:48]: undocumented flags1/flags2 on Catalyst 5000 exports

		r.Exporter = flow.AgentInfo{
			SysUptimeMS:    uptimeMS,
			ExportSecs:     unixSecs,
			ExportNsecs:    unixNsecs,
			NetflowVersion: 7,
		}
		r.Engine = flow.EngineInfo{Sequence: flowSeq}

		records[i] = r
	}
	return records, nil
}
