// Package parser holds the name-to-factory registry that turns a probe's
// verdict into a running protocol parser, plus the per-flow bookkeeping
// for which parser instance owns which flow.
package parser

import "github.com/arashal/flowcap/flow"

// Direction is which side of a flow a payload was captured travelling.
type Direction int

const (
	ToServer Direction = iota
	ToClient
)

// Status is the result of feeding one payload to a bound parser.
type Status int

const (
	// Ok means the payload parsed; the parser may or may not have anything
	// new to report through Get.
	Ok Status = iota
	// Fail means the payload did not fit this protocol after all. The
	// caller unbinds the parser; the flow is not bypassed, so its next
	// payload is probed again.
	Fail
)

// Parser is a running, stateful decode of one flow's payloads.
type Parser interface {
	// Parse consumes one payload. dir tells it which side sent it.
	Parse(payload []byte, dir Direction) Status
	// Keys lists the fields this parser currently has a value for.
	Keys() []string
	// Get fetches one field by key, as reported in Keys.
	Get(key string) (interface{}, bool)
}

// Factory builds fresh Parser instances for one protocol name.
type Factory interface {
	Name() string
	Build() Parser
}

// Registry is C5's name-to-factory map.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f, replacing any existing factory under the same name.
func (r *Registry) Register(f Factory) {
	r.factories[f.Name()] = f
}

// Keys lists every registered protocol name.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}

// Get looks up a factory by name.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Binding is one flow's currently bound parser.
type Binding struct {
	Name     string
	Parser   Parser
	Reversed bool
}

// Bindings tracks which flows have a parser bound, independent of the
// probe cascade's own per-flow state. Unbinding a flow here does not bypass
// it in the cascade, so a later payload on that flow is probed again and
// may bind the same or a different parser.
type Bindings struct {
	byFlow map[flow.ID]Binding
}

// NewBindings returns an empty binding table.
func NewBindings() *Bindings {
	return &Bindings{byFlow: make(map[flow.ID]Binding)}
}

// Bind attaches p under name to id. The caller builds p beforehand from the
// registry's factory for name.
func (b *Bindings) Bind(id flow.ID, name string, p Parser, reversed bool) {
	b.byFlow[id] = Binding{Name: name, Parser: p, Reversed: reversed}
}

// Get returns id's current binding, if any.
func (b *Bindings) Get(id flow.ID) (Binding, bool) {
	bound, ok := b.byFlow[id]
	return bound, ok
}

// Unbind removes id's parser, e.g. after a Fail status or flow teardown.
func (b *Bindings) Unbind(id flow.ID) {
	delete(b.byFlow, id)
}
