package interceptor

import (
	"context"
	"fmt"
	"sort"

	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
)

// contribution is one tagged factory registration within a template
type contribution struct {
	band    Band
	seq     int
	declare string // declaring type name, empty for system factories
	factory Factory
}

// Template is an ordered sequence of interceptor factories for one phase or
// one invocable operation. A template is mutable while being assembled and
// immutable after Freeze.
type Template struct {
	phase     Phase
	operation valueobjects.Signature
	entries   []contribution
	nextSeq   int
	frozen    bool
}

// NewTemplate creates an empty template for a lifecycle phase
func NewTemplate(phase Phase) *Template {
	return &Template{phase: phase}
}

// NewOperationTemplate creates an empty template for an invocable operation
func NewOperationTemplate(phase Phase, op valueobjects.Signature) *Template {
	return &Template{phase: phase, operation: op}
}

// Phase returns the phase this template belongs to
func (t *Template) Phase() Phase {
	return t.phase
}

// Operation returns the operation for dispatch templates, zero otherwise
func (t *Template) Operation() valueobjects.Signature {
	return t.operation
}

// Add registers a factory into a band. Submission order within a band is
// preserved through Freeze.
func (t *Template) Add(band Band, declaringType string, factory Factory) error {
	if t.frozen {
		return pkgerrors.NewConflictError(fmt.Sprintf("template for phase %q is frozen", t.phase))
	}
	if _, ok := bandRank(t.phase, band); !ok {
		return pkgerrors.NewBuildError("", fmt.Sprintf("band %q is not registered for phase %q", band, t.phase))
	}
	t.entries = append(t.entries, contribution{
		band:    band,
		seq:     t.nextSeq,
		declare: declaringType,
		factory: factory,
	})
	t.nextSeq++
	return nil
}

// Freeze sorts the contributions by band rank (stable, so intra-band
// submission order survives) and validates the terminal invariant: exactly
// one terminal-band entry per template.
func (t *Template) Freeze() error {
	if t.frozen {
		return nil
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		ri, _ := bandRank(t.phase, t.entries[i].band)
		rj, _ := bandRank(t.phase, t.entries[j].band)
		return ri < rj
	})

	terminals := 0
	for _, e := range t.entries {
		if e.band == BandTerminal {
			terminals++
		}
	}
	if terminals != 1 {
		return pkgerrors.NewBuildError("", fmt.Sprintf("phase %q requires exactly one terminal contribution, got %d", t.phase, terminals))
	}

	t.frozen = true
	return nil
}

// Frozen reports whether the template is immutable
func (t *Template) Frozen() bool {
	return t.frozen
}

// Len returns the number of contributions
func (t *Template) Len() int {
	return len(t.entries)
}

// DeclaringTypes returns the declaring type name per contribution in final
// order. System contributions report an empty string.
func (t *Template) DeclaringTypes() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.declare
	}
	return out
}

// Bands returns the band per contribution in final order
func (t *Template) Bands() []Band {
	out := make([]Band, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.band
	}
	return out
}

// Materialize asks every factory to produce an instance-bound interceptor.
// The resulting chain is fixed for the instance's lifetime.
func (t *Template) Materialize(ref InstanceRef) (*Chain, error) {
	if !t.frozen {
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("cannot materialize unfrozen template for phase %q", t.phase))
	}
	interceptors := make([]Interceptor, len(t.entries))
	for i, e := range t.entries {
		interceptors[i] = e.factory.Create(ref)
	}
	return &Chain{
		phase:        t.phase,
		operation:    t.operation,
		interceptors: interceptors,
	}, nil
}

// Chain is a materialized interceptor pipeline bound to one instance.
// Chains are read-only after materialization and safe for concurrent
// invocation.
type Chain struct {
	phase        Phase
	operation    valueobjects.Signature
	interceptors []Interceptor
}

// Phase returns the phase this chain serves
func (c *Chain) Phase() Phase {
	return c.phase
}

// Len returns the number of interceptors in the chain
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Invoke runs the chain for one occurrence of the phase or operation
func (c *Chain) Invoke(ctx context.Context, ref InstanceRef, args []interface{}) (interface{}, error) {
	inv := &Invocation{
		Phase:     c.phase,
		Operation: c.operation,
		Args:      args,
		Instance:  ref,
		chain:     c.interceptors,
	}
	return inv.Proceed(ctx)
}

// TemplateSet groups the templates built for one component type: one per
// lifecycle phase plus one per invocable operation.
type TemplateSet struct {
	Lifecycle  map[Phase]*Template
	Operations map[string]*Template
}

// NewTemplateSet creates an empty template set
func NewTemplateSet() *TemplateSet {
	return &TemplateSet{
		Lifecycle:  make(map[Phase]*Template),
		Operations: make(map[string]*Template),
	}
}

// Freeze freezes every template in the set
func (s *TemplateSet) Freeze() error {
	for _, t := range s.Lifecycle {
		if err := t.Freeze(); err != nil {
			return err
		}
	}
	for _, t := range s.Operations {
		if err := t.Freeze(); err != nil {
			return err
		}
	}
	return nil
}

// Materialize produces the instance-bound chain set
func (s *TemplateSet) Materialize(ref InstanceRef) (*ChainSet, error) {
	cs := &ChainSet{
		Lifecycle:  make(map[Phase]*Chain, len(s.Lifecycle)),
		Operations: make(map[string]*Chain, len(s.Operations)),
	}
	for phase, t := range s.Lifecycle {
		chain, err := t.Materialize(ref)
		if err != nil {
			return nil, err
		}
		cs.Lifecycle[phase] = chain
	}
	for op, t := range s.Operations {
		chain, err := t.Materialize(ref)
		if err != nil {
			return nil, err
		}
		cs.Operations[op] = chain
	}
	return cs, nil
}

// ChainSet is the fixed chain collection owned by one component instance
type ChainSet struct {
	Lifecycle  map[Phase]*Chain
	Operations map[string]*Chain
}

// ForPhase returns the chain for a lifecycle phase, or nil when the phase
// has no template (e.g. passivation on a non-passivating component)
func (s *ChainSet) ForPhase(phase Phase) *Chain {
	return s.Lifecycle[phase]
}

// ForOperation returns the dispatch chain for an operation signature
func (s *ChainSet) ForOperation(op valueobjects.Signature) *Chain {
	return s.Operations[op.String()]
}
