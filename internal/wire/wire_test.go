package wire

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/xaddr"
)

func testSource(t *testing.T) xaddr.Addr {
	t.Helper()
	a, err := xaddr.FromNetIP(net.ParseIP("198.51.100.7"))
	require.NoError(t, err)
	return a
}

// S1: a well-formed v1 datagram with one flow yields a record whose
// decoded octets/family match the input.
func TestDecodeV1SingleFlow(t *testing.T) {
	source := testSource(t)
	pkt := buildV1(net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 1234, 80, 6, 100, 1)

	records, err := DecodeV1(pkt, source, time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, uint64(100), r.Octets)
	assert.Equal(t, xaddr.V4, r.Src.Family)
	assert.Equal(t, "10.0.0.1", r.Src.String())
	assert.Equal(t, "10.0.0.2", r.Dst.String())
	assert.True(t, r.AddressesCoherent())
	assert.False(t, r.Has(flow.FieldASInfo), "v1 never carries AS info")
}

// S2: a v5 datagram with nflows = 0 is rejected.
func TestDecodeV5ZeroFlowsRejected(t *testing.T) {
	buf := buildV5(1)
	buf = buf[:nf5HeaderSize] // truncate to header only
	// overwrite count field to 0 on the truncated header
	buf[2], buf[3] = 0, 0

	_, err := DecodeV5(buf, testSource(t), time.Now())
	assert.Error(t, err)
}

// S3: a v5 datagram declaring 30 records but only carrying 29 is rejected.
func TestDecodeV5TruncatedRejected(t *testing.T) {
	buf := buildV5(30)
	short := buf[:len(buf)-nf5RecordSize] // drop the last record's bytes
	// but the header still claims 30 flows
	_, err := DecodeV5(short, testSource(t), time.Now())
	assert.Error(t, err)
}

func TestDecodeV5MultiFlowOrderPreserved(t *testing.T) {
	pkt := buildV5(3)
	records, err := DecodeV5(pkt, testSource(t), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, uint16(20000+i), r.SrcPort, "flow order must match datagram order")
	}
}

func TestDecodeV7CarriesNoEngineInfo(t *testing.T) {
	pkt := buildV7(1)
	records, err := DecodeV7(pkt, testSource(t), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Has(flow.FieldFlowEngineInfo))
	assert.Equal(t, uint32(7), records[0].Engine.Sequence)
}

func TestDecodeV5InvalidFlowCountRejected(t *testing.T) {
	buf := buildV5(1)
	binary.BigEndian.PutUint16(buf[2:4], 31) // exceeds nf5MaxFlows but packet still 1-record long
	_, err := DecodeV5(buf, testSource(t), time.Now())
	assert.Error(t, err)
}

// S5: a v9 datagram is reported as unsupported, distinct from malformed.
func TestDispatchUnsupportedVersion(t *testing.T) {
	buf := make([]byte, 8)
	buf[0], buf[1] = 0, 9 // version = 9
	_, err := Dispatch(buf, testSource(t), time.Now())
	require.Error(t, err)
	var uv *UnsupportedVersionError
	assert.ErrorAs(t, err, &uv)
	assert.Equal(t, uint16(9), uv.Version)
}

func TestDispatchShortPacket(t *testing.T) {
	_, err := Dispatch([]byte{0, 5}, testSource(t), time.Now())
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestProtocolNameAndTCPFlags(t *testing.T) {
	assert.Equal(t, "TCP", ProtocolName(6))
	assert.Equal(t, "UDP", ProtocolName(17))
	assert.Equal(t, "SA", TCPFlagsString(0x12))
	assert.Equal(t, "-", TCPFlagsString(0))
}
