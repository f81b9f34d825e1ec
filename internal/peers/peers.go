// Package peers implements the bounded LRU table of per-exporter state
// described in spec.md §3/§4.1: a hash map keyed by exporter address plus
// an intrusive recency list, so lookup and eviction both stay O(1).
package peers

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/pavelkim/flowd/internal/xaddr"
)

// Peer holds per-exporter liveness and counters. From is immutable after
// creation and is the peer-table key.
type Peer struct {
	From xaddr.Addr

	NPackets uint64
	NFlows   uint64
	NInvalid uint64

	FirstSeen  time.Time
	LastValid  time.Time
	LastVersion uint16

	elem *list.Element // this peer's node in the table's recency list
}

// Table is the bounded, ordered peer state table. MaxPeers is immutable
// for the life of the table.
type Table struct {
	mu sync.Mutex

	byAddr   map[xaddr.Addr]*Peer
	recency  *list.List // front = most recently touched
	MaxPeers int
	NumForced uint64
}

// NewTable creates a peer table bounded at maxPeers.
func NewTable(maxPeers int) *Table {
	return &Table{
		byAddr:   make(map[xaddr.Addr]*Peer),
		recency:  list.New(),
		MaxPeers: maxPeers,
	}
}

// NumPeers returns the current peer count, equal to the cardinality of
// both the lookup map and the recency list (spec.md §3 invariant).
func (t *Table) NumPeers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

// Find looks up a peer by address without creating or reordering it.
func (t *Table) Find(addr xaddr.Addr) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byAddr[addr]
	return p, ok
}

// Intern returns the existing peer for addr, or creates one. Creation
// evicts the tail of the recency list (the least-recently-valid peer)
// when the table is already at MaxPeers, per spec.md §4.1.
func (t *Table) Intern(addr xaddr.Addr, now time.Time) (peer *Peer, evicted *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.byAddr[addr]; ok {
		return p, nil
	}

	if len(t.byAddr) >= t.MaxPeers && t.MaxPeers > 0 {
		evicted = t.evictLocked()
	}

	p := &Peer{From: addr, FirstSeen: now}
	p.elem = t.recency.PushFront(p)
	t.byAddr[addr] = p

	return p, evicted
}

func (t *Table) evictLocked() *Peer {
	tail := t.recency.Back()
	if tail == nil {
		return nil
	}
	victim := tail.Value.(*Peer)
	t.recency.Remove(tail)
	delete(t.byAddr, victim.From)
	t.NumForced++
	return victim
}

// Touch records a valid packet from peer: moves it to the head of the
// recency list (no-op if already there), bumps NPackets/NFlows, updates
// LastValid and LastVersion. Invalid packets must call IncrInvalid
// instead -- they do not reorder the list, so a chatty-but-garbage
// exporter still ages out.
func (t *Table) Touch(peer *Peer, nflows uint64, version uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recency.Front() != peer.elem {
		t.recency.MoveToFront(peer.elem)
	}
	peer.LastValid = now
	peer.NFlows += nflows
	peer.NPackets++
	peer.LastVersion = version
}

// IncrInvalid bumps a peer's invalid-datagram counter without touching
// its recency position.
func (t *Table) IncrInvalid(peer *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer.NInvalid++
}

// Snapshot returns all peers in key order, for reporting (spec.md §4.1).
func (t *Table) Snapshot() []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Peer, 0, len(t.byAddr))
	for _, p := range t.byAddr {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From.Less(out[j].From) })
	return out
}
