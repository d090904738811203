// Package analyzer dispatches decoded packets to a registration-ordered
// chain of analyzers, and hosts the protocol-identification analyzer that
// wires together flow tracking, probing, and parser binding.
package analyzer

import (
	"github.com/pkg/errors"

	"github.com/arashal/flowcap/capture"
)

// Analyzer is one stage of packet processing. Init runs once before the
// first packet; Teardown runs once after the stream ends (cleanly or not).
// BeforeRefill runs every time the underlying reader is about to block on
// I/O, giving an analyzer a natural place to do idle housekeeping without a
// background goroutine.
type Analyzer interface {
	Init() error
	HandlePacket(pkt *capture.Packet, ctx *capture.ParseContext) error
	BeforeRefill()
	Teardown()
}

// Error wraps a non-nil return from an Analyzer with the packet it was
// handling when the error occurred. It is always fatal to the run.
type Error struct {
	PcapIndex uint64
	Cause     error
}

func (e *Error) Error() string {
	return errors.Wrapf(e.Cause, "analyzer failed at record %d", e.PcapIndex).Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Pipeline runs a fixed list of analyzers, in registration order, over
// every packet.
type Pipeline struct {
	stages []Analyzer
}

// NewPipeline builds a pipeline from stages, preserving order.
func NewPipeline(stages ...Analyzer) *Pipeline {
	return &Pipeline{stages: stages}
}

// Init runs every stage's Init, stopping at the first error.
func (p *Pipeline) Init() error {
	for _, a := range p.stages {
		if err := a.Init(); err != nil {
			return err
		}
	}
	return nil
}

// HandlePacket runs pkt through every stage in order, stopping at the first
// error and wrapping it as an *Error.
func (p *Pipeline) HandlePacket(pkt *capture.Packet, ctx *capture.ParseContext) error {
	for _, a := range p.stages {
		if err := a.HandlePacket(pkt, ctx); err != nil {
			return &Error{PcapIndex: pkt.PcapIndex, Cause: err}
		}
	}
	return nil
}

// BeforeRefill runs every stage's BeforeRefill hook.
func (p *Pipeline) BeforeRefill() {
	for _, a := range p.stages {
		a.BeforeRefill()
	}
}

// Teardown runs every stage's Teardown, in registration order; callers
// invoke this once at the end of a run.
func (p *Pipeline) Teardown() {
	for _, a := range p.stages {
		a.Teardown()
	}
}
