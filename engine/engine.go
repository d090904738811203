// Package engine wires the capture decoder, flow table, probe cascade, and
// parser registry into the single synchronous pass a caller actually runs:
// build an Engine once, register any extra analyzers, then Run it against
// one capture stream at a time.
package engine

import (
	"io"

	"go.uber.org/zap"

	"github.com/arashal/flowcap/analyzer"
	"github.com/arashal/flowcap/capture"
	"github.com/arashal/flowcap/parser"
	"github.com/arashal/flowcap/probe"
	"github.com/arashal/flowcap/proto/ctp"
	"github.com/arashal/flowcap/proto/dns"
	"github.com/arashal/flowcap/proto/http"
	"github.com/arashal/flowcap/proto/ssh"
	"github.com/arashal/flowcap/proto/tls"
	"github.com/arashal/flowcap/runid"
)

// defaultProbes is the protocol roster this repository ships parsers for,
// ordered and filtered exactly as §11 describes: TLS before SSH before the
// shared FTP/SMTP command-line probe on TCP (cheaper, more discriminating
// checks first; the plaintext command/banner check last since it is the
// least discriminating), with the HTTP request/status-line probe folded in
// between SSH and the FTP/SMTP probe, and DNS alone on UDP at the same
// relative ordinal the original roster gave it.
func defaultProbes() []probe.Def {
	return []probe.Def{
		{Filter: probe.NewFilter(probe.TransportTCP, 0), Name: tls.Name, Probe: tls.Probe},
		{Filter: probe.NewFilter(probe.TransportTCP, 1), Name: ssh.Name, Probe: ssh.Probe},
		{Filter: probe.NewFilter(probe.TransportTCP, 2), Name: http.Name, Probe: http.Probe},
		{Filter: probe.NewFilter(probe.TransportTCP, 3), Name: ctp.Name, Probe: ctp.Probe},
		{Filter: probe.NewFilter(probe.TransportUDP, 1), Name: dns.Name, Probe: dns.Probe},
	}
}

// Engine drives one capture stream at a time, in full, through the
// decoder and a registration-ordered analyzer chain. There is no internal
// goroutine anywhere: Run is one call stack from the reader to the last
// analyzer's HandlePacket, per §5. A caller wanting concurrent runs over
// independent inputs runs independent Engines on independent goroutines.
type Engine struct {
	opts     Options
	registry *parser.Registry
	probes   []probe.Def
	extra    []analyzer.Analyzer
	runID    runid.RunID

	lastRun *analyzer.ProtocolID
}

// New builds an Engine with the default protocol roster (tls, ssh, http,
// ftp_smtp, dns_udp) registered against opt's BufferPool.
func New(opt ...Option) *Engine {
	opts := NewOptions()
	for _, o := range opt {
		o(&opts)
	}

	registry := parser.NewRegistry()
	registry.Register(tls.NewFactory())
	registry.Register(ssh.NewFactory())
	registry.Register(ctp.NewFactory())
	registry.Register(dns.NewFactory())
	registry.Register(http.NewFactory(opts.BufferPool))

	return &Engine{
		opts:     opts,
		registry: registry,
		probes:   defaultProbes(),
		runID:    runid.New(),
	}
}

// Registry exposes the parser registry so a caller can register additional
// protocol factories, or replace a default one, before calling Run.
func (e *Engine) Registry() *parser.Registry { return e.registry }

// Use appends analyzers run after the protocol-ID analyzer, in the order
// given, on every subsequent Run.
func (e *Engine) Use(a ...analyzer.Analyzer) {
	e.extra = append(e.extra, a...)
}

// RunID returns the identifier this Engine attaches to every log line it
// emits, for correlating a run's output across a larger log stream.
func (e *Engine) RunID() runid.RunID { return e.runID }

// Flows exposes the flow table and parser bindings from the most recent
// Run, for post-run introspection (flow counts, per-flow parser keys).
// Nil until the first Run.
func (e *Engine) Flows() *analyzer.ProtocolID { return e.lastRun }

// Run decodes r as one capture stream - classic pcap or block-oriented,
// auto-detected - and feeds every packet through the protocol-ID analyzer
// and any analyzers added with Use, in registration order. It returns nil
// once the stream ends cleanly; any other return is a
// *capture.MalformedCaptureError, an *analyzer.Error, or the error an
// analyzer's Init returned. A link type with no payload decoder is not an
// error: its packets reach the analyzers tagged capture.PayloadUnsupported.
func (e *Engine) Run(r io.Reader) error {
	logger := e.opts.Logger.With(zap.String("run_id", string(e.runID)))

	protoID := analyzer.NewProtocolID(e.registry, e.probes, e.opts.IdleFlowTimeout, e.opts.MaxCandidateListSize, logger)
	e.lastRun = protoID
	stages := make([]analyzer.Analyzer, 0, len(e.extra)+1)
	stages = append(stages, protoID)
	stages = append(stages, e.extra...)
	pipeline := analyzer.NewPipeline(stages...)

	reader := capture.NewBlockReader(r)
	reader.SetBeforeRefill(pipeline.BeforeRefill)

	decoder := capture.NewDecoder(reader)
	decoder.OnSkippedBlock = func(kind capture.BlockKind) {
		logger.Debug("skipped capture block", zap.Int("block_kind", int(kind)))
	}

	if err := pipeline.Init(); err != nil {
		return err
	}
	defer pipeline.Teardown()

	for {
		pkt, err := decoder.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := pipeline.HandlePacket(pkt, decoder.Context()); err != nil {
			return err
		}
	}
}
