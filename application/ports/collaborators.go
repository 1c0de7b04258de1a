package ports

import (
	"context"

	"chassis/domain/core/entities"
	"chassis/domain/core/valueobjects"
	"chassis/domain/events"
	"chassis/domain/interceptor"
)

// Declaration is one user callback declared by a type in the hierarchy
type Declaration struct {
	DeclaringType string
	Signature     valueobjects.Signature
}

// DescriptorProvider supplies the per-type behavior descriptor collected by
// an external metadata collector. Declarations must be stable and
// hierarchy-complete: repeated calls with the same arguments return the same
// ordered list.
type DescriptorProvider interface {
	// DeclarationsFor returns the callbacks a single type declares for a
	// phase, in declaration order
	DeclarationsFor(typeName string, phase interceptor.Phase) []Declaration
}

// HierarchyProvider supplies the type hierarchy of a component type,
// most-derived first
type HierarchyProvider interface {
	HierarchyOf(componentType string) []string
}

// TargetDispatcher invokes the underlying object's method matching an
// operation or lifecycle declaration. It returns the result or propagates
// the failure unchanged; interceptors up the chain decide independently
// whether to translate it.
type TargetDispatcher interface {
	Dispatch(ctx context.Context, target interface{}, sig valueobjects.Signature, args []interface{}) (interface{}, error)
}

// InstanceCache holds identity-associated instances and guarantees at most
// one active instance per identity. It also embeds the eviction contract the
// lifecycle's discard calls into.
type InstanceCache interface {
	entities.EvictionNotifier

	// Acquire returns the instance bound to the identity, associating a
	// pooled instance on a miss
	Acquire(ctx context.Context, key valueobjects.IdentityKey) (*entities.ComponentInstance, error)

	// Release passivates the instance and returns it to the pool
	Release(ctx context.Context, inst *entities.ComponentInstance) error
}

// InstancePool holds unassociated instances
type InstancePool interface {
	// Take returns a pooled instance, constructing one if the pool is empty
	Take(ctx context.Context) (*entities.ComponentInstance, error)

	// Put returns an instance to the pool; discarded instances are dropped
	Put(ctx context.Context, inst *entities.ComponentInstance)
}

// PoolFactory creates the instance pool for one deployed component type.
// The construct function builds and post-constructs a fresh instance; the
// pool calls it on a miss.
type PoolFactory interface {
	NewPool(typeName string, construct func(ctx context.Context) (*entities.ComponentInstance, error)) InstancePool
}

// CacheFactory creates the identity cache for one deployed component type,
// backed by that type's pool
type CacheFactory interface {
	NewCache(typeName string, pool InstancePool) InstanceCache
}

// EventPublisher publishes lifecycle domain events to interested parties
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
