package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

const (
	nf1HeaderSize = 16 // version, count, sys_uptime, unix_secs, unix_nsecs
	nf1RecordSize = 48
	nf1MaxFlows   = 24
)

// nf1PacketSize returns the expected total datagram length for n flow
// records, or the byte offset of record n when used to locate a record.
func nf1PacketSize(n int) int {
	return nf1HeaderSize + n*nf1RecordSize
}

// DecodeV1 validates and decodes a NetFlow v1 datagram per spec.md §4.2.
func DecodeV1(pkt []byte, source xaddr.Addr, recvTime time.Time) ([]flow.Record, error) {
	if len(pkt) < nf1HeaderSize {
		return nil, fmt.Errorf("wire: short netflow v1 packet: %d bytes", len(pkt))
	}

	count := int(binary.BigEndian.Uint16(pkt[2:4]))
	if count == 0 || count > nf1MaxFlows {
		return nil, fmt.Errorf("wire: invalid v1 flow count %d", count)
	}
	if len(pkt) != nf1PacketSize(count) {
		return nil, fmt.Errorf("wire: inconsistent v1 packet: len %d expected %d",
			len(pkt), nf1PacketSize(count))
	}

	uptimeMS := binary.BigEndian.Uint32(pkt[4:8])
	unixSecs := binary.BigEndian.Uint32(pkt[8:12])
	unixNsecs := binary.BigEndian.Uint32(pkt[12:16])

	records := make([]flow.Record, count)
	for i := 0; i < count; i++ {
		rec := pkt[nf1PacketSize(i):nf1PacketSize(i + 1)]
		r := baseFlow(source, recvTime)

		r.Fields &^= flow.FieldSrcAddr6 | flow.FieldDstAddr6 | flow.FieldGatewayAddr6
		r.Fields &^= flow.FieldASInfo | flow.FieldFlowEngineInfo

		srcIP, dstIP, nextHop := rec[0:4], rec[4:8], rec[8:12]

		srcAddr, err := xaddr.FromNetIP(srcIP)
		if err != nil {
			return nil, fmt.Errorf("wire: v1 src addr: %w", err)
		}
		dstAddr, err := xaddr.FromNetIP(dstIP)
		if err != nil {
			return nil, fmt.Errorf("wire: v1 dst addr: %w", err)
		}
		gwAddr, err := xaddr.FromNetIP(nextHop)
		if err != nil {
			return nil, fmt.Errorf("wire: v1 gateway addr: %w", err)
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
		// rec[40:48]: reserved/padding in v1's fixed layout

		r.Exporter = flow.AgentInfo{
			SysUptimeMS:    uptimeMS,
			ExportSecs:     unixSecs,
			ExportNsecs:    unixNsecs,
			NetflowVersion: 1,
		}

		records[i] = r
	}
	return records, nil
}
