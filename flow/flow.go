// Package flow assigns a stable identity to a bidirectional transport
// conversation and tracks when it was first and last observed.
package flow

import (
	"net/netip"
	"time"
)

// ID is a monotonically increasing flow identifier, assigned in the order
// flows are first observed. It is not derived from the five-tuple, so it
// stays stable even if a later conversation reuses the same ports.
type ID uint64

// FiveTuple names one direction of a transport conversation.
type FiveTuple struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Proto   uint8 // IP protocol number, e.g. 6 (TCP) or 17 (UDP)
}

// key is the direction-invariant form of a FiveTuple: whichever endpoint
// sorts first by (address, port) becomes "A", so both directions of the
// same conversation hash to the same key.
type key struct {
	addrA netip.Addr
	addrB netip.Addr
	portA uint16
	portB uint16
	proto uint8
}

func normalize(t FiveTuple) (k key, reversed bool) {
	less := t.SrcIP.Less(t.DstIP) || (t.SrcIP == t.DstIP && t.SrcPort < t.DstPort)
	if less {
		return key{addrA: t.SrcIP, addrB: t.DstIP, portA: t.SrcPort, portB: t.DstPort, proto: t.Proto}, false
	}
	return key{addrA: t.DstIP, addrB: t.SrcIP, portA: t.DstPort, portB: t.SrcPort, proto: t.Proto}, true
}

// Record is everything the table tracks about one flow.
type Record struct {
	ID ID

	// Initiator is the five-tuple of the packet that first established this
	// flow; ToServer compares a later packet's tuple against it to recover
	// direction.
	Initiator FiveTuple

	FirstSeen time.Time
	LastSeen  time.Time
}

// ToServer reports whether a packet with tuple t travels in the same
// direction as the packet that opened this flow.
func (r *Record) ToServer(t FiveTuple) bool {
	return t.SrcIP == r.Initiator.SrcIP && t.SrcPort == r.Initiator.SrcPort
}

// DestroyFunc is invoked once, with the flow's final record, when a flow is
// evicted from the table, by SweepIdle or by an explicit Destroy call.
type DestroyFunc func(Record)

// Table is C3: it assigns stable IDs to five-tuples, normalizing direction,
// and tracks recency so idle flows can be swept.
type Table struct {
	byKey map[key]*Record
	nextID ID

	onDestroy DestroyFunc
}

// NewTable constructs an empty table. onDestroy may be nil.
func NewTable(onDestroy DestroyFunc) *Table {
	return &Table{byKey: make(map[key]*Record), onDestroy: onDestroy}
}

// Lookup returns the flow for t, creating one if this is the first packet
// seen for this conversation in either direction. now is the packet's
// capture time, used to seed FirstSeen/LastSeen.
func (tb *Table) Lookup(t FiveTuple, now time.Time) *Record {
	k, _ := normalize(t)
	if rec, ok := tb.byKey[k]; ok {
		if now.After(rec.LastSeen) {
			rec.LastSeen = now
		}
		return rec
	}

	tb.nextID++
	rec := &Record{
		ID:        tb.nextID,
		Initiator: t,
		FirstSeen: now,
		LastSeen:  now,
	}
	tb.byKey[k] = rec
	return rec
}

// Find returns the flow currently tracked for t, if any, without creating
// one. Useful for tests asserting that two packets resolved to the same
// flow ID.
func (tb *Table) Find(t FiveTuple) (*Record, bool) {
	k, _ := normalize(t)
	rec, ok := tb.byKey[k]
	return rec, ok
}

// Destroy evicts a flow by its five-tuple (direction doesn't matter) and
// invokes the table's DestroyFunc, if any, with the record as it stood at
// eviction.
func (tb *Table) Destroy(t FiveTuple) {
	k, _ := normalize(t)
	rec, ok := tb.byKey[k]
	if !ok {
		return
	}
	delete(tb.byKey, k)
	if tb.onDestroy != nil {
		tb.onDestroy(*rec)
	}
}

// SweepIdle evicts every flow whose LastSeen is older than cutoff, invoking
// the DestroyFunc for each. It is meant to be called from an analyzer's
// BeforeRefill hook, not from a background goroutine.
func (tb *Table) SweepIdle(cutoff time.Time) {
	for k, rec := range tb.byKey {
		if rec.LastSeen.Before(cutoff) {
			delete(tb.byKey, k)
			if tb.onDestroy != nil {
				tb.onDestroy(*rec)
			}
		}
	}
}

// Len reports how many flows are currently tracked.
func (tb *Table) Len() int { return len(tb.byKey) }
