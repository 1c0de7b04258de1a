package entities

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chassis/domain/core/valueobjects"
	"chassis/domain/events"
	"chassis/domain/interceptor"
	pkgerrors "chassis/pkg/errors"

	"go.uber.org/zap"
)

// LifecycleState represents the state of a component instance
type LifecycleState string

const (
	StateNew        LifecycleState = "new"
	StatePooled     LifecycleState = "pooled"
	StateAssociated LifecycleState = "associated"
	StatePassivated LifecycleState = "passivated"
	StateDiscarded  LifecycleState = "discarded"
)

// EntityCallbacks is the persistence collaborator supplied per component
// type for identity-bound kinds. The state machine invokes it exactly as the
// lifecycle operations specify; it never retries.
type EntityCallbacks interface {
	Activate(ctx context.Context, inst *ComponentInstance) error
	Load(ctx context.Context, inst *ComponentInstance) error
	Store(ctx context.Context, inst *ComponentInstance) error
	Passivate(ctx context.Context, inst *ComponentInstance) error
}

// EvictionNotifier receives the at-most-once eviction notification raised by
// Discard. The identity cache implements this.
type EvictionNotifier interface {
	Evict(ctx context.Context, inst *ComponentInstance) error
}

// ComponentInstance is the identity-bound lifecycle state machine.
// It owns a fixed chain set materialized at construction and drives it
// through construction, identity association, passivation and destruction.
//
// Associate, Store, Passivate and Destroy serialize on a per-instance mutex;
// Discard uses a separate single-transition flag so a discarding goroutine
// never deadlocks against a goroutine holding the lifecycle lock.
type ComponentInstance struct {
	id        valueobjects.InstanceID
	typeName  string
	target    interface{}
	callbacks EntityCallbacks
	evictor   EvictionNotifier
	logger    *zap.Logger

	mu      sync.Mutex
	state   LifecycleState
	chains  *interceptor.ChainSet
	removed bool
	events  []events.DomainEvent

	// identity has its own lock so persistence callbacks, which run while
	// mu is held, can read it through Identity()
	identityMu sync.RWMutex
	identity   valueobjects.IdentityKey

	discarded atomic.Bool
}

// NewComponentInstance creates an instance in state NEW wrapping the given
// target object. Callbacks and evictor may be nil for kinds that are not
// identity-bound.
func NewComponentInstance(
	typeName string,
	target interface{},
	callbacks EntityCallbacks,
	evictor EvictionNotifier,
	logger *zap.Logger,
) (*ComponentInstance, error) {
	if typeName == "" {
		return nil, pkgerrors.NewValidationError("component type name cannot be empty")
	}
	if target == nil {
		return nil, pkgerrors.NewValidationError("target cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComponentInstance{
		id:        valueobjects.NewInstanceID(),
		typeName:  typeName,
		target:    target,
		callbacks: callbacks,
		evictor:   evictor,
		logger:    logger,
		state:     StateNew,
		events:    []events.DomainEvent{},
	}, nil
}

// InstanceID implements interceptor.InstanceRef
func (c *ComponentInstance) InstanceID() valueobjects.InstanceID {
	return c.id
}

// ComponentTypeName implements interceptor.InstanceRef
func (c *ComponentInstance) ComponentTypeName() string {
	return c.typeName
}

// Target implements interceptor.InstanceRef
func (c *ComponentInstance) Target() interface{} {
	return c.target
}

// State returns the current lifecycle state
func (c *ComponentInstance) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the current identity key, zero when unassociated.
// Safe to call from persistence callbacks.
func (c *ComponentInstance) Identity() valueobjects.IdentityKey {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.identity
}

func (c *ComponentInstance) setIdentity(key valueobjects.IdentityKey) {
	c.identityMu.Lock()
	c.identity = key
	c.identityMu.Unlock()
}

// Removed reports whether the underlying entity has been removed
func (c *ComponentInstance) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// SetRemoved marks the underlying entity as removed. Store and Passivate
// skip their persistence callbacks on a removed instance.
func (c *ComponentInstance) SetRemoved(removed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = removed
}

// Discarded reports whether the instance has been permanently invalidated
func (c *ComponentInstance) Discarded() bool {
	return c.discarded.Load()
}

// Construct materializes the instance's chain set from the component type's
// templates and runs the post-construct phase. NEW -> POOLED.
func (c *ComponentInstance) Construct(ctx context.Context, templates *interceptor.TemplateSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNew {
		return pkgerrors.NewConflictError(fmt.Sprintf("construct requires state %q, instance is %q", StateNew, c.state))
	}

	chains, err := templates.Materialize(c)
	if err != nil {
		return err
	}
	c.chains = chains

	if chain := chains.ForPhase(interceptor.PhasePostConstruct); chain != nil {
		if _, err := chain.Invoke(ctx, c, nil); err != nil {
			return pkgerrors.NewLifecycleError("post-construct", err)
		}
	}

	c.state = StatePooled
	c.addEvent(events.NewInstanceConstructed(c.id, c.typeName, time.Now()))
	return nil
}

// Associate binds the instance to an identity. POOLED|PASSIVATED ->
// ASSOCIATED. The activation callback runs before the load callback; any
// failure is wrapped as a lifecycle error and the caller is expected to
// discard the instance.
func (c *ComponentInstance) Associate(ctx context.Context, key valueobjects.IdentityKey) error {
	if key.IsZero() {
		return pkgerrors.NewValidationError("identity key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discarded.Load() {
		return pkgerrors.NewConflictError("cannot associate a discarded instance")
	}
	if c.state != StatePooled && c.state != StatePassivated {
		return pkgerrors.NewConflictError(fmt.Sprintf("associate requires state %q or %q, instance is %q", StatePooled, StatePassivated, c.state))
	}

	c.setIdentity(key)
	c.state = StateAssociated

	if c.callbacks != nil {
		if err := c.callbacks.Activate(ctx, c); err != nil {
			return pkgerrors.NewLifecycleError("activate", err)
		}
		if err := c.callbacks.Load(ctx, c); err != nil {
			return pkgerrors.NewLifecycleError("load", err)
		}
	}

	if c.chains != nil {
		if chain := c.chains.ForPhase(interceptor.PhasePostActivate); chain != nil {
			if _, err := chain.Invoke(ctx, c, nil); err != nil {
				return pkgerrors.NewLifecycleError("post-activate", err)
			}
		}
	}

	c.addEvent(events.NewInstanceAssociated(c.id, c.typeName, key, time.Now()))
	return nil
}

// Store synchronizes the instance's state to the persistence collaborator.
// ASSOCIATED -> ASSOCIATED. No callback fires on a removed instance.
func (c *ComponentInstance) Store(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discarded.Load() {
		return pkgerrors.NewConflictError("cannot store a discarded instance")
	}
	if c.state != StateAssociated {
		return pkgerrors.NewConflictError(fmt.Sprintf("store requires state %q, instance is %q", StateAssociated, c.state))
	}
	if c.removed {
		return nil
	}

	if c.callbacks != nil {
		if err := c.callbacks.Store(ctx, c); err != nil {
			return pkgerrors.NewLifecycleError("store", err)
		}
	}
	return nil
}

// Passivate detaches the instance from its identity. ASSOCIATED ->
// PASSIVATED. The passivation callback fires before the identity key is
// cleared; no callback fires on a removed instance.
func (c *ComponentInstance) Passivate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discarded.Load() {
		return pkgerrors.NewConflictError("cannot passivate a discarded instance")
	}
	if c.state != StateAssociated {
		return pkgerrors.NewConflictError(fmt.Sprintf("passivate requires state %q, instance is %q", StateAssociated, c.state))
	}

	key := c.Identity()
	if !c.removed {
		if c.chains != nil {
			if chain := c.chains.ForPhase(interceptor.PhasePrePassivate); chain != nil {
				if _, err := chain.Invoke(ctx, c, nil); err != nil {
					return pkgerrors.NewLifecycleError("pre-passivate", err)
				}
			}
		}
		if c.callbacks != nil {
			if err := c.callbacks.Passivate(ctx, c); err != nil {
				return pkgerrors.NewLifecycleError("passivate", err)
			}
		}
	}

	c.setIdentity(valueobjects.IdentityKey{})
	c.state = StatePassivated
	c.addEvent(events.NewInstancePassivated(c.id, c.typeName, key, time.Now()))
	return nil
}

// Invoke dispatches an operation through the instance's around-invoke chain.
// Dispatch takes no lifecycle lock; chains are immutable and the container
// is responsible for invocation-level concurrency policy.
func (c *ComponentInstance) Invoke(ctx context.Context, op valueobjects.Signature, args []interface{}) (interface{}, error) {
	if c.discarded.Load() {
		return nil, pkgerrors.NewConflictError("cannot invoke a discarded instance")
	}

	c.mu.Lock()
	chains := c.chains
	c.mu.Unlock()

	if chains == nil {
		return nil, pkgerrors.NewConflictError("instance has not been constructed")
	}
	chain := chains.ForOperation(op)
	if chain == nil {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("operation %q on component type %q", op.String(), c.typeName))
	}
	return chain.Invoke(ctx, c, args)
}

// Discard permanently invalidates the instance. Idempotent and safe to call
// concurrently with any in-flight lifecycle operation; the eviction
// notification is raised at most once. Discard waits for an in-flight
// associate/store/passivate to finish before notifying eviction, so a
// discard racing a store cannot silently drop the persistence write.
// Eviction failures are logged, never returned.
func (c *ComponentInstance) Discard(ctx context.Context) {
	if !c.discarded.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	c.state = StateDiscarded
	c.setIdentity(valueobjects.IdentityKey{})
	c.addEvent(events.NewInstanceDiscarded(c.id, c.typeName, time.Now()))
	c.mu.Unlock()

	if c.evictor != nil {
		if err := c.evictor.Evict(ctx, c); err != nil {
			c.logger.Warn("eviction notification failed",
				zap.String("instanceID", c.id.String()),
				zap.String("componentType", c.typeName),
				zap.Error(err))
		}
	}
}

// Destroy runs the pre-destroy phase and retires the instance. Allowed from
// any non-terminal state. The pre-destroy chain unsets the identity context;
// failures are translated to a lifecycle error. Destroy does not raise the
// eviction notification; that belongs to Discard.
func (c *ComponentInstance) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDiscarded {
		return nil
	}

	var chainErr error
	if c.chains != nil {
		if chain := c.chains.ForPhase(interceptor.PhasePreDestroy); chain != nil {
			if _, err := chain.Invoke(ctx, c, nil); err != nil {
				chainErr = pkgerrors.NewLifecycleError("pre-destroy", err)
			}
		}
	}

	c.setIdentity(valueobjects.IdentityKey{})
	c.state = StateDiscarded
	if c.discarded.CompareAndSwap(false, true) {
		c.addEvent(events.NewInstanceDiscarded(c.id, c.typeName, time.Now()))
	}
	return chainErr
}

// GetUncommittedEvents returns all uncommitted domain events
func (c *ComponentInstance) GetUncommittedEvents() []events.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.DomainEvent, len(c.events))
	copy(out, c.events)
	return out
}

// MarkEventsAsCommitted clears the uncommitted events
func (c *ComponentInstance) MarkEventsAsCommitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = []events.DomainEvent{}
}

// addEvent appends a domain event; callers hold c.mu
func (c *ComponentInstance) addEvent(event events.DomainEvent) {
	c.events = append(c.events, event)
}
