package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

const (
	nf5HeaderSize = 24 // + engine_type, engine_id, sampling_interval
	nf5RecordSize = 48
	nf5MaxFlows   = 30
)

func nf5PacketSize(n int) int {
	return nf5HeaderSize + n*nf5RecordSize
}

// DecodeV5 validates and decodes a NetFlow v5 datagram per spec.md §4.2.
func DecodeV5(pkt []byte, source xaddr.Addr, recvTime time.Time) ([]flow.Record, error) {
	if len(pkt) < nf5HeaderSize {
		return nil, fmt.Errorf("wire: short netflow v5 packet: %d bytes", len(pkt))
	}

	count := int(binary.BigEndian.Uint16(pkt[2:4]))
	if count == 0 || count > nf5MaxFlows {
		return nil, fmt.Errorf("wire: invalid v5 flow count %d", count)
	}
	if len(pkt) != nf5PacketSize(count) {
		return nil, fmt.Errorf("wire: inconsistent v5 packet: len %d expected %d",
			len(pkt), nf5PacketSize(count))
	}

	uptimeMS := binary.BigEndian.Uint32(pkt[4:8])
	unixSecs := binary.BigEndian.Uint32(pkt[8:12])
	unixNsecs := binary.BigEndian.Uint32(pkt[12:16])
	flowSeq := binary.BigEndian.Uint32(pkt[16:20])
	engineType := pkt[20]
	engineID := pkt[21]

	records := make([]flow.Record, count)
	for i := 0; i < count; i++ {
		rec := pkt[nf5PacketSize(i):nf5PacketSize(i + 1)]
		r := baseFlow(source, recvTime)

		r.Fields &^= flow.FieldSrcAddr6 | flow.FieldDstAddr6 | flow.FieldGatewayAddr6

		srcAddr, err := xaddr.FromNetIP(rec[0:4])
		if err != nil {
			return nil, fmt.Errorf("wire: v5 src addr: %w", err)
		}
		dstAddr, err := xaddr.FromNetIP(rec[4:8])
		if err != nil {
			return nil, fmt.Errorf("wire: v5 dst addr: %w", err)
		}
		gwAddr, err := xaddr.FromNetIP(rec[8:12])
		if err != nil {
			return nil, fmt.Errorf("wire: v5 gateway addr: %w", err)
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
		// rec[46:48] is padding

		r.Exporter = flow.AgentInfo{
			SysUptimeMS:    uptimeMS,
			ExportSecs:     unixSecs,
			ExportNsecs:    unixNsecs,
			NetflowVersion: 5,
		}
		r.Engine = flow.EngineInfo{
			Type:     engineType,
			ID:       engineID,
			Sequence: flowSeq,
		}

		records[i] = r
	}
	return records, nil
}
