package analyzer

import (
	"time"

	"go.uber.org/zap"

	"github.com/arashal/flowcap/capture"
	"github.com/arashal/flowcap/flow"
	"github.com/arashal/flowcap/parser"
	"github.com/arashal/flowcap/probe"
)

// ProtocolID is C6's host analyzer: it owns the flow table, the probe
// cascade, and the parser bindings, and is usually the only analyzer most
// callers need to register.
type ProtocolID struct {
	logger   *zap.Logger
	registry *parser.Registry
	cascade  *probe.Cascade
	bindings *parser.Bindings
	flows    *flow.Table

	idleTimeout time.Duration
	lastSeen    time.Time
}

// NewProtocolID builds the analyzer. defs is the full probe roster across
// every transport this build supports; idleTimeout of zero disables the
// BeforeRefill sweep; maxCandidates of zero leaves a flow's candidate list
// uncapped between Unsure rounds.
func NewProtocolID(registry *parser.Registry, defs []probe.Def, idleTimeout time.Duration, maxCandidates int, logger *zap.Logger) *ProtocolID {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ProtocolID{
		logger:      logger,
		registry:    registry,
		bindings:    parser.NewBindings(),
		idleTimeout: idleTimeout,
	}
	p.cascade = probe.NewCascade(defs, maxCandidates)
	p.flows = flow.NewTable(p.onFlowDestroyed)
	return p
}

// Flows exposes the underlying flow table for callers that want to report
// on flow counts after a run.
func (p *ProtocolID) Flows() *flow.Table { return p.flows }

// Parser returns the protocol parser currently bound to id, if any, for
// post-run introspection via its Keys/Get methods.
func (p *ProtocolID) Parser(id flow.ID) (parser.Binding, bool) {
	return p.bindings.Get(id)
}

func (p *ProtocolID) onFlowDestroyed(rec flow.Record) {
	p.bindings.Unbind(rec.ID)
	p.cascade.Forget(rec.ID)
}

func (p *ProtocolID) Init() error { return nil }

func (p *ProtocolID) Teardown() {}

// BeforeRefill sweeps flows that have gone quiet for longer than
// idleTimeout, relative to the most recently observed packet's timestamp.
func (p *ProtocolID) BeforeRefill() {
	if p.idleTimeout <= 0 || p.lastSeen.IsZero() {
		return
	}
	p.flows.SweepIdle(p.lastSeen.Add(-p.idleTimeout))
}

func (p *ProtocolID) HandlePacket(pkt *capture.Packet, _ *capture.ParseContext) error {
	seg, ok := extractSegment(pkt.Data)
	if !ok {
		return nil
	}

	now := toTime(pkt.Timestamp)
	p.lastSeen = now
	rec := p.flows.Lookup(seg.tuple, now)

	if bound, ok := p.bindings.Get(rec.ID); ok {
		p.feed(rec, bound, seg)
		return nil
	}

	outcome := p.cascade.Probe(rec.ID, seg.transport, seg.payload, probe.L4Info{
		SrcPort: seg.tuple.SrcPort,
		DstPort: seg.tuple.DstPort,
		Proto:   seg.transport,
	})

	for _, name := range outcome.FatalFrom {
		p.logger.Warn("probe returned fatal result",
			zap.String("protocol", name), zap.Uint64("flow_id", uint64(rec.ID)))
	}
	if outcome.Bypass || !outcome.Bound {
		return nil
	}

	factory, ok := p.registry.Get(outcome.Name)
	if !ok {
		p.cascade.Bypass(rec.ID)
		p.logger.Warn("probe claimed a protocol with no registered factory, bypassing flow",
			zap.String("protocol", outcome.Name), zap.Uint64("flow_id", uint64(rec.ID)))
		return nil
	}

	bound := parser.Binding{Name: outcome.Name, Parser: factory.Build(), Reversed: outcome.Reversed}
	p.bindings.Bind(rec.ID, bound.Name, bound.Parser, bound.Reversed)
	p.feed(rec, bound, seg)
	return nil
}

func (p *ProtocolID) feed(rec *flow.Record, bound parser.Binding, seg segment) {
	dir := directionFor(rec, seg.tuple, bound.Reversed)
	if bound.Parser.Parse(seg.payload, dir) == parser.Fail {
		p.logger.Warn("parser rejected payload, unbinding",
			zap.String("protocol", bound.Name), zap.Uint64("flow_id", uint64(rec.ID)))
		p.bindings.Unbind(rec.ID)
	}
}

func directionFor(rec *flow.Record, tuple flow.FiveTuple, reversed bool) parser.Direction {
	toServer := rec.ToServer(tuple)
	if reversed {
		toServer = !toServer
	}
	if toServer {
		return parser.ToServer
	}
	return parser.ToClient
}

func toTime(ts capture.Timestamp) time.Time {
	return time.Unix(int64(ts.Secs), int64(ts.FractionalMicros)*1000)
}
