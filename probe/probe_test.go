package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arashal/flowcap/flow"
)

func l4(proto Transport) L4Info { return L4Info{Proto: proto} }

func TestProbeOrderingIsSortedByFilter(t *testing.T) {
	var order []string
	mk := func(name string, filter uint32, result Result) Def {
		return Def{
			Filter: filter,
			Name:   name,
			Probe: func(payload []byte, _ L4Info) Result {
				order = append(order, name)
				return result
			},
		}
	}

	defs := []Def{
		mk("third", NewFilter(TransportTCP, 2), Unsure),
		mk("first", NewFilter(TransportTCP, 0), Unsure),
		mk("second", NewFilter(TransportTCP, 1), Unsure),
	}

	c := NewCascade(defs, 0)
	c.Probe(1, TransportTCP, []byte("x"), l4(TransportTCP))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCertainFreezesDecisionAndClearsCandidates(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "a", Probe: func([]byte, L4Info) Result { return Unsure }},
		{Filter: NewFilter(TransportTCP, 1), Name: "b", Probe: func([]byte, L4Info) Result { return Certain }},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	require.True(t, out.Bound)
	assert.Equal(t, "b", out.Name)
	assert.False(t, out.Reversed)

	// A second call with a flow already bound by the caller wouldn't reach
	// Probe again in the analyzer, but the cascade itself holds no more
	// candidate state for this flow either way.
	assert.Empty(t, c.candidates[1])
}

func TestReverseSetsReversedFlag(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "srv", Probe: func([]byte, L4Info) Result { return Reverse }},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	require.True(t, out.Bound)
	assert.True(t, out.Reversed)
}

func TestUnsureCarriesCandidateListToNextRound(t *testing.T) {
	calls := map[string]int{}
	defs := []Def{
		{Filter: NewFilter(TransportUDP, 0), Name: "dhcp", Probe: func([]byte, L4Info) Result {
			calls["dhcp"]++
			return Unsure
		}},
		{Filter: NewFilter(TransportUDP, 1), Name: "ntp", Probe: func([]byte, L4Info) Result {
			calls["ntp"]++
			return NotForUs
		}},
	}
	c := NewCascade(defs, 0)

	out1 := c.Probe(1, TransportUDP, []byte("round1"), l4(TransportUDP))
	assert.False(t, out1.Bound)
	assert.False(t, out1.Bypass)
	require.Len(t, c.candidates[1], 1)
	assert.Equal(t, "dhcp", c.candidates[1][0].Name)

	// Second round only re-invokes the surviving candidate.
	out2 := c.Probe(1, TransportUDP, []byte("round2"), l4(TransportUDP))
	assert.False(t, out2.Bound)
	assert.Equal(t, 2, calls["dhcp"])
	assert.Equal(t, 1, calls["ntp"])
}

func TestNotForUsOnEveryProbeBypassesFlow(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "a", Probe: func([]byte, L4Info) Result { return NotForUs }},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.True(t, out.Bypass)

	// Bypass is terminal: further calls short-circuit without re-invoking
	// the probe.
	out2 := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.True(t, out2.Bypass)
}

func TestFatalAloneBypassesFlow(t *testing.T) {
	calls := 0
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "flaky", Probe: func([]byte, L4Info) Result {
			calls++
			return Fatal
		}},
	}
	c := NewCascade(defs, 0)

	// Fatal is not carried into the candidate list like Unsure is: with no
	// other probe to fall back on, the flow bypasses on the very first
	// round instead of being retried forever.
	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.Equal(t, []string{"flaky"}, out.FatalFrom)
	assert.True(t, out.Bypass)
	assert.Equal(t, 1, calls)
}

func TestFatalIsNotDisabledForOtherFlows(t *testing.T) {
	calls := 0
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "flaky", Probe: func([]byte, L4Info) Result {
			calls++
			return Fatal
		}},
	}
	c := NewCascade(defs, 0)

	c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	c.Probe(2, TransportTCP, nil, l4(TransportTCP))
	assert.Equal(t, 2, calls, "a Fatal result disables the probe for that flow only, never globally")
}

func TestFatalDoesNotBlockAnUnsureSiblingFromCarryingForward(t *testing.T) {
	fatalCalls, unsureCalls := 0, 0
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "flaky", Probe: func([]byte, L4Info) Result {
			fatalCalls++
			return Fatal
		}},
		{Filter: NewFilter(TransportTCP, 1), Name: "patient", Probe: func([]byte, L4Info) Result {
			unsureCalls++
			return Unsure
		}},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.False(t, out.Bypass)
	assert.Equal(t, []Def{defs[1]}, c.candidates[flow.ID(1)], "only the Unsure probe carries forward")

	c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.Equal(t, 1, fatalCalls, "the dropped Fatal probe is not retried for this flow")
	assert.Equal(t, 2, unsureCalls)
}

func TestTransportFilteringRestrictsProbeSet(t *testing.T) {
	udpCalled := false
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "tcp-only", Probe: func([]byte, L4Info) Result { return Certain }},
		{Filter: NewFilter(TransportUDP, 0), Name: "udp-only", Probe: func([]byte, L4Info) Result {
			udpCalled = true
			return Certain
		}},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.Equal(t, "tcp-only", out.Name)
	assert.False(t, udpCalled)
}

func TestMaxCandidatesCapsCarriedOverList(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "a", Probe: func([]byte, L4Info) Result { return Unsure }},
		{Filter: NewFilter(TransportTCP, 1), Name: "b", Probe: func([]byte, L4Info) Result { return Unsure }},
		{Filter: NewFilter(TransportTCP, 2), Name: "c", Probe: func([]byte, L4Info) Result { return Unsure }},
	}
	c := NewCascade(defs, 2)

	c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.Len(t, c.candidates[1], 2)
}

func TestForgetDropsCandidateAndBypassState(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "a", Probe: func([]byte, L4Info) Result { return NotForUs }},
	}
	c := NewCascade(defs, 0)
	c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.True(t, c.bypass.Contains(flow.ID(1)))

	c.Forget(1)
	assert.False(t, c.bypass.Contains(flow.ID(1)))
}

func TestBypassForcesFlowIntoBypassedStateAndDropsCandidates(t *testing.T) {
	defs := []Def{
		{Filter: NewFilter(TransportTCP, 0), Name: "a", Probe: func([]byte, L4Info) Result { return Unsure }},
	}
	c := NewCascade(defs, 0)

	out := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.False(t, out.Bypass)
	assert.Len(t, c.candidates[flow.ID(1)], 1)

	c.Bypass(1)
	assert.True(t, c.bypass.Contains(flow.ID(1)))
	_, stillCandidate := c.candidates[flow.ID(1)]
	assert.False(t, stillCandidate)

	out2 := c.Probe(1, TransportTCP, nil, l4(TransportTCP))
	assert.True(t, out2.Bypass, "a forced bypass is terminal like any other")
}
