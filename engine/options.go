package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/arashal/flowcap/mempool"
)

const (
	// DefaultSnaplen mirrors the donor's own default capture snaplen; it is
	// advisory here (the capture itself dictates how much of each packet was
	// kept), surfaced so an embedding binary can report it alongside a run.
	DefaultSnaplen uint32 = 262144

	// DefaultMaxCandidateListSize caps a flow's Unsure candidate list at
	// eight probes; this build's roster has five (four on TCP), so the
	// default never actually trims anything.
	DefaultMaxCandidateListSize int = 8

	defaultBufferPoolSize_bytes  int64 = 64 * 1024 * 1024
	defaultBufferChunkSize_bytes int64 = 4096
)

// Options configures an Engine. The zero value is not ready to use; build
// one with NewOptions and mutate it with the With* functions.
type Options struct {
	// Snaplen is reported to callers that want to know the configured
	// capture limit; the decoder itself trusts each block's own lengths.
	Snaplen uint32

	// IdleFlowTimeout is how long a flow may go unseen before the protocol-ID
	// analyzer's BeforeRefill hook evicts it. Zero disables the sweep
	// entirely, matching §5's "no eviction policy" default.
	IdleFlowTimeout time.Duration

	// MaxCandidateListSize caps how many probes a flow's candidate list
	// keeps between Unsure rounds. Zero means unlimited.
	MaxCandidateListSize int

	// Logger receives every non-fatal condition in §7 at Warn, plus Debug
	// housekeeping. Defaults to a no-op logger.
	Logger *zap.Logger

	// BufferPool backs any parser that accumulates payload bytes across
	// calls (currently the HTTP parser's request/response bodies).
	BufferPool mempool.BufferPool
}

// NewOptions returns an Options populated with this module's defaults.
func NewOptions() Options {
	pool, err := mempool.MakeBufferPool(defaultBufferPoolSize_bytes, defaultBufferChunkSize_bytes)
	if err != nil {
		// The constants above are fixed and always valid; MakeBufferPool
		// only fails on a caller-supplied size mismatch.
		panic(err)
	}
	return Options{
		Snaplen:              DefaultSnaplen,
		MaxCandidateListSize: DefaultMaxCandidateListSize,
		Logger:               zap.NewNop(),
		BufferPool:           pool,
	}
}

// Option mutates an Options value built by NewOptions.
type Option func(*Options)

// WithLogger installs l as the engine's structured logger. A nil l is
// ignored, leaving the previous logger (by default, a no-op) in place.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithSnaplen overrides the reported snaplen.
func WithSnaplen(n uint32) Option {
	return func(o *Options) { o.Snaplen = n }
}

// WithIdleFlowTimeout enables the idle-flow sweep at duration d. A zero d
// disables it.
func WithIdleFlowTimeout(d time.Duration) Option {
	return func(o *Options) { o.IdleFlowTimeout = d }
}

// WithMaxCandidateListSize overrides the per-flow candidate-list cap.
func WithMaxCandidateListSize(n int) Option {
	return func(o *Options) { o.MaxCandidateListSize = n }
}

// WithBufferPool overrides the pool used by buffering parsers, e.g. to
// share one pool across multiple Engines.
func WithBufferPool(p mempool.BufferPool) Option {
	return func(o *Options) { o.BufferPool = p }
}
