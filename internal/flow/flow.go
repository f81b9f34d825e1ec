// Package flow defines the canonical, version-independent flow record that
// every wire decoder emits and the store serializes.
package flow

import (
	"time"

	"github.com/pavelkim/flowd/internal/xaddr"
)

// Fields is a bitmask declaring which optional substructures of a Record
// are populated. The decoder sets FieldAll then clears the bits the
// source NetFlow version does not supply.
type Fields uint32

const (
	FieldTag Fields = 1 << iota
	FieldAgentAddr
	FieldSrcAddr4
	FieldSrcAddr6
	FieldDstAddr4
	FieldDstAddr6
	FieldGatewayAddr4
	FieldGatewayAddr6
	FieldPorts
	FieldPacketsOctets
	FieldIfIndices
	FieldASInfo
	FieldFlowEngineInfo
	FieldAgentInfo
	FieldFlowTimes
	FieldProtoFlags
	FieldRecvTime

	FieldAll = FieldTag | FieldAgentAddr | FieldSrcAddr4 | FieldSrcAddr6 |
		FieldDstAddr4 | FieldDstAddr6 | FieldGatewayAddr4 | FieldGatewayAddr6 |
		FieldPorts | FieldPacketsOctets | FieldIfIndices | FieldASInfo |
		FieldFlowEngineInfo | FieldAgentInfo | FieldFlowTimes |
		FieldProtoFlags | FieldRecvTime
)

// AgentInfo carries the exporting device's own clock and version.
type AgentInfo struct {
	SysUptimeMS    uint32
	ExportSecs     uint32
	ExportNsecs    uint32
	NetflowVersion uint8
}

// ASInfo carries autonomous-system numbers and prefix masks.
type ASInfo struct {
	SrcAS   uint32
	DstAS   uint32
	SrcMask uint8
	DstMask uint8
}

// EngineInfo carries the flow-switching engine identity and sequence.
type EngineInfo struct {
	Type     uint8
	ID       uint8
	Sequence uint32
}

// FlowTimes carries start/finish times relative to the exporter's own
// uptime clock (milliseconds since boot, as reported by the device).
type FlowTimes struct {
	StartMS  uint32
	FinishMS uint32
}

// Record is the canonical internal flow record: a union of optional
// substructures gated by Fields.
type Record struct {
	Fields Fields
	Tag    uint32

	Agent   xaddr.Addr
	Src     xaddr.Addr
	Dst     xaddr.Addr
	Gateway xaddr.Addr

	SrcPort uint16
	DstPort uint16

	Packets uint64
	Octets  uint64

	IfIndexIn  uint32
	IfIndexOut uint32

	AS       ASInfo
	Engine   EngineInfo
	Exporter AgentInfo
	Times    FlowTimes

	TCPFlags uint8
	Protocol uint8
	ToS      uint8

	RecvTime time.Time
}

// Has reports whether every bit in want is set in r.Fields.
func (r *Record) Has(want Fields) bool {
	return r.Fields&want == want
}

// AddressesCoherent is the family-coherence invariant from spec.md §3/§8:
// if both endpoints are present, they must share an address family.
func (r *Record) AddressesCoherent() bool {
	haveSrc := r.Has(FieldSrcAddr4) || r.Has(FieldSrcAddr6)
	haveDst := r.Has(FieldDstAddr4) || r.Has(FieldDstAddr6)
	if !haveSrc || !haveDst {
		return true
	}
	return r.Src.Family == r.Dst.Family
}
