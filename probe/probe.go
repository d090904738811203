// Package probe runs an ordered cascade of protocol probes over a flow's
// early payload bytes until one claims the flow or all of them give up.
package probe

import (
	"sort"

	"github.com/arashal/flowcap/flow"
	"github.com/arashal/flowcap/sets"
)

// Result is what a single probe function reports about one payload.
type Result int

const (
	// Certain means this protocol, in the direction the payload arrived.
	Certain Result = iota
	// Reverse means this protocol, but the payload arrived from what the
	// flow table thinks is the server side; the parser should be bound
	// with directions swapped.
	Reverse
	// Unsure means try again with the next payload from this flow; the
	// probe neither claims nor rules itself out.
	Unsure
	// NotForUs rules this probe out permanently for this flow.
	NotForUs
	// Fatal means the probe hit an internal error. The caller logs it;
	// like NotForUs, the probe is not carried into this flow's candidate
	// list, but it stays in the roster for other flows.
	Fatal
)

// Transport distinguishes probe filters by IP protocol number.
type Transport uint8

const (
	TransportTCP Transport = 6
	TransportUDP Transport = 17
)

// L4Info carries the transport-layer facts a probe may key off of, such as
// a well-known port.
type L4Info struct {
	SrcPort uint16
	DstPort uint16
	Proto   Transport
}

// Func is one protocol's probe. It must not retain payload past the call.
type Func func(payload []byte, l4 L4Info) Result

// Def registers one probe. Filter packs the transport into its top byte and
// a priority into the rest, e.g. Transport<<24 | priority, so lower
// priority values are tried first within a transport.
type Def struct {
	Filter uint32
	Name   string
	Probe  Func
}

// NewFilter builds a Def.Filter from a transport and an ascending priority.
func NewFilter(t Transport, priority uint32) uint32 {
	return uint32(t)<<24 | priority
}

// Outcome is what Cascade.Probe decided for one payload.
type Outcome struct {
	// Bound is true once Name is a final verdict: either Certain or
	// Reverse.
	Bound    bool
	Name     string
	Reversed bool

	// Bypass is true once every registered probe has ruled itself out for
	// this flow; the caller should stop calling Probe for this flow.
	Bypass bool

	// FatalFrom names any probes that returned Fatal this round, so the
	// caller can log them; it does not affect Bound or Bypass.
	FatalFrom []string
}

// Cascade is C4: per-flow probe-candidate tracking plus the bypass set for
// flows that exhausted every candidate.
type Cascade struct {
	defs []Def // sorted by Filter ascending

	candidates map[flow.ID][]Def
	bypass     sets.Set[flow.ID]

	// maxCandidates caps how many probes a flow's candidate list may carry
	// forward after an Unsure round; 0 means unlimited. Probes are dropped
	// off the low-priority (end) of the list first, since the
	// highest-priority candidates are the ones most likely to resolve the
	// flow soonest.
	maxCandidates int
}

// NewCascade builds a cascade from an unordered set of probe definitions.
// maxCandidates caps the per-flow candidate list carried between Unsure
// rounds; 0 means unlimited.
func NewCascade(defs []Def, maxCandidates int) *Cascade {
	sorted := append([]Def(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Filter < sorted[j].Filter })
	return &Cascade{
		defs:          sorted,
		candidates:    make(map[flow.ID][]Def),
		bypass:        sets.NewSet[flow.ID](),
		maxCandidates: maxCandidates,
	}
}

func (c *Cascade) defsForTransport(t Transport) []Def {
	var out []Def
	want := uint32(t) << 24
	for _, d := range c.defs {
		if d.Filter&0xff000000 == want {
			out = append(out, d)
		}
	}
	return out
}

// Probe feeds one payload from id's conversation through whichever probes
// are still candidates for it, returning the round's verdict. Once a flow
// is bypassed, subsequent calls return Bypass immediately without
// re-running any probe. A Certain or Reverse verdict clears the flow's
// state rather than recording it, so a later call for that flow probes it
// again from the full roster.
func (c *Cascade) Probe(id flow.ID, transport Transport, payload []byte, l4 L4Info) Outcome {
	if c.bypass.Contains(id) {
		return Outcome{Bypass: true}
	}

	list, seen := c.candidates[id]
	if !seen {
		list = c.defsForTransport(transport)
	}
	if len(list) == 0 {
		c.bypass.Insert(id)
		delete(c.candidates, id)
		return Outcome{Bypass: true}
	}

	var remaining []Def
	var fatal []string
	for _, def := range list {
		switch def.Probe(payload, l4) {
		case Certain:
			delete(c.candidates, id)
			return Outcome{Bound: true, Name: def.Name}
		case Reverse:
			delete(c.candidates, id)
			return Outcome{Bound: true, Name: def.Name, Reversed: true}
		case Unsure:
			remaining = append(remaining, def)
		case Fatal:
			// logged by the caller, but not carried forward: only Unsure
			// re-enters the candidate list.
			fatal = append(fatal, def.Name)
		case NotForUs:
			// dropped from future rounds
		}
	}

	if len(remaining) == 0 {
		c.bypass.Insert(id)
		delete(c.candidates, id)
		return Outcome{Bypass: true, FatalFrom: fatal}
	}
	if c.maxCandidates > 0 && len(remaining) > c.maxCandidates {
		remaining = remaining[:c.maxCandidates]
	}
	c.candidates[id] = remaining
	return Outcome{FatalFrom: fatal}
}

// Forget drops any cascade state held for id, e.g. once its flow has been
// destroyed. It also removes id from the bypass set, since bypass is a
// verdict that only needs to be remembered while the flow exists.
func (c *Cascade) Forget(id flow.ID) {
	delete(c.candidates, id)
	c.bypass.Delete(id)
}

// Bypass forces id into the bypassed state outside the normal Probe
// cascade, e.g. when a probe's verdict names a protocol with no registered
// parser factory. Per spec this is terminal: id will never be re-probed.
func (c *Cascade) Bypass(id flow.ID) {
	delete(c.candidates, id)
	c.bypass.Insert(id)
}
