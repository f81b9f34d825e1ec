package peers

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelkim/flowd/internal/xaddr"
)

func addr(t *testing.T, ip string) xaddr.Addr {
	t.Helper()
	a, err := xaddr.FromNetIP(net.ParseIP(ip))
	require.NoError(t, err)
	return a
}

// S4: with max_peers = 2, three distinct sources each sending one valid
// datagram yield exactly 2 peers, with the first-seen source evicted and
// num_forced == 1.
func TestInternEvictsLRUAtCapacity(t *testing.T) {
	tbl := NewTable(2)
	now := time.Now()

	a1 := addr(t, "10.0.0.1")
	a2 := addr(t, "10.0.0.2")
	a3 := addr(t, "10.0.0.3")

	p1, evicted := tbl.Intern(a1, now)
	require.Nil(t, evicted)
	tbl.Touch(p1, 1, 5, now)

	p2, evicted := tbl.Intern(a2, now.Add(time.Second))
	require.Nil(t, evicted)
	tbl.Touch(p2, 1, 5, now.Add(time.Second))

	assert.Equal(t, 2, tbl.NumPeers())

	_, evicted = tbl.Intern(a3, now.Add(2*time.Second))
	require.NotNil(t, evicted)
	assert.Equal(t, a1, evicted.From, "first-seen, never re-touched peer is LRU")
	assert.Equal(t, 2, tbl.NumPeers())
	assert.Equal(t, uint64(1), tbl.NumForced)
}

func TestTouchMovesPeerToFrontOfRecency(t *testing.T) {
	tbl := NewTable(10)
	now := time.Now()

	a1 := addr(t, "10.0.0.1")
	a2 := addr(t, "10.0.0.2")
	p1, _ := tbl.Intern(a1, now)
	tbl.Intern(a2, now)

	tbl.Touch(p1, 1, 5, now.Add(time.Second))

	snap := tbl.Snapshot() // Snapshot is key-ordered, not recency-ordered
	assert.Len(t, snap, 2)

	// Recency order is exercised indirectly: touching p1 after p2 means a
	// subsequent overflow must evict p2, not p1.
	small := NewTable(2)
	q1, _ := small.Intern(a1, now)
	small.Intern(a2, now.Add(time.Millisecond))
	small.Touch(q1, 1, 5, now.Add(2*time.Millisecond))
	_, evicted := small.Intern(addr(t, "10.0.0.3"), now.Add(3*time.Millisecond))
	require.NotNil(t, evicted)
	assert.Equal(t, a2, evicted.From)
}

func TestCounterMonotonicity(t *testing.T) {
	tbl := NewTable(10)
	now := time.Now()
	p, _ := tbl.Intern(addr(t, "10.0.0.1"), now)

	tbl.Touch(p, 5, 5, now)
	tbl.IncrInvalid(p)
	tbl.Touch(p, 3, 5, now.Add(time.Second))

	assert.Equal(t, uint64(2), p.NPackets)
	assert.Equal(t, uint64(8), p.NFlows)
	assert.Equal(t, uint64(1), p.NInvalid)
}

func TestInvalidPacketsDoNotReorderRecency(t *testing.T) {
	tbl := NewTable(2)
	now := time.Now()

	a1 := addr(t, "10.0.0.1")
	a2 := addr(t, "10.0.0.2")
	p1, _ := tbl.Intern(a1, now)
	p2, _ := tbl.Intern(a2, now.Add(time.Millisecond))
	_ = p2

	// a1 only ever sends garbage -- IncrInvalid must not promote it.
	tbl.IncrInvalid(p1)
	tbl.IncrInvalid(p1)

	_, evicted := tbl.Intern(addr(t, "10.0.0.3"), now.Add(2*time.Millisecond))
	require.NotNil(t, evicted)
	assert.Equal(t, a1, evicted.From, "peer with only invalid packets stays LRU and ages out")
}

func TestSnapshotIsKeyOrdered(t *testing.T) {
	tbl := NewTable(10)
	now := time.Now()
	tbl.Intern(addr(t, "10.0.0.3"), now)
	tbl.Intern(addr(t, "10.0.0.1"), now)
	tbl.Intern(addr(t, "10.0.0.2"), now)

	snap := tbl.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "10.0.0.1", snap[0].From.String())
	assert.Equal(t, "10.0.0.2", snap[1].From.String())
	assert.Equal(t, "10.0.0.3", snap[2].From.String())
}
