// Package registry provides the in-code behavior descriptor and type
// hierarchy collaborators. Descriptors are registered programmatically at
// startup; there is no descriptor file format.
package registry

import (
	"sync"

	"chassis/application/ports"
	"chassis/domain/core/valueobjects"
	"chassis/domain/interceptor"
)

// Registry implements ports.DescriptorProvider and ports.HierarchyProvider
// from programmatic registrations. Registration happens during deployment,
// before any build; reads afterwards are lock-free snapshots of stable
// data, so a mutex around both is enough.
type Registry struct {
	mu          sync.RWMutex
	hierarchies map[string][]string
	decls       map[string]map[interceptor.Phase][]ports.Declaration
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		hierarchies: make(map[string][]string),
		decls:       make(map[string]map[interceptor.Phase][]ports.Declaration),
	}
}

// RegisterHierarchy records the full hierarchy of a component type,
// most-derived first. The component type itself is the first element; a
// type without bases registers just itself.
func (r *Registry) RegisterHierarchy(componentType string, hierarchy ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(hierarchy) == 0 {
		hierarchy = []string{componentType}
	}
	chain := make([]string, len(hierarchy))
	copy(chain, hierarchy)
	r.hierarchies[componentType] = chain
}

// DeclareCallback records that a type declares a callback for a phase.
// Declaration order is preserved.
func (r *Registry) DeclareCallback(typeName string, phase interceptor.Phase, sig valueobjects.Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases, ok := r.decls[typeName]
	if !ok {
		phases = make(map[interceptor.Phase][]ports.Declaration)
		r.decls[typeName] = phases
	}
	phases[phase] = append(phases[phase], ports.Declaration{
		DeclaringType: typeName,
		Signature:     sig,
	})
}

// HierarchyOf implements ports.HierarchyProvider
func (r *Registry) HierarchyOf(componentType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.hierarchies[componentType]
	if !ok {
		return []string{componentType}
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

// DeclarationsFor implements ports.DescriptorProvider
func (r *Registry) DeclarationsFor(typeName string, phase interceptor.Phase) []ports.Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	phases, ok := r.decls[typeName]
	if !ok {
		return nil
	}
	decls := phases[phase]
	out := make([]ports.Declaration, len(decls))
	copy(out, decls)
	return out
}
