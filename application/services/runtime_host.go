package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chassis/application/assembly"
	"chassis/application/ports"
	"chassis/domain/config"
	"chassis/domain/core/aggregates"
	"chassis/domain/core/entities"
	"chassis/domain/core/valueobjects"
	"chassis/domain/events"
	pkgerrors "chassis/pkg/errors"
	"chassis/pkg/extensions"
	"chassis/pkg/observability"
)

// Registration describes one component type being deployed to the host
type Registration struct {
	Build assembly.BuildInput

	// NewTarget produces a fresh target object per pooled instance
	NewTarget func() interface{}

	// Callbacks is the persistence collaborator for identity-bound kinds;
	// nil for kinds without persistent identity
	Callbacks entities.EntityCallbacks
}

// deployment is the per-type runtime state the host keeps after a
// successful build
type deployment struct {
	componentType *aggregates.ComponentType
	callbacks     entities.EntityCallbacks
	pool          ports.InstancePool
	cache         ports.InstanceCache
}

// RuntimeHost is the facade over the assembly engine and the instance
// lifecycle. It builds chain templates at registration time and drives
// acquire, dispatch, release and removal for deployed types.
//
// Registration is serialized per host; runtime operations on different
// instances proceed concurrently.
type RuntimeHost struct {
	builder   *assembly.Builder
	pools     ports.PoolFactory
	caches    ports.CacheFactory
	publisher ports.EventPublisher
	cfg       *config.Store
	metrics   *observability.Collector
	logger    *zap.Logger
	hooks     *extensions.HookManager

	mu          sync.RWMutex
	deployments map[string]*deployment
}

// NewRuntimeHost creates a host with its collaborators
func NewRuntimeHost(
	builder *assembly.Builder,
	pools ports.PoolFactory,
	caches ports.CacheFactory,
	publisher ports.EventPublisher,
	cfg *config.Store,
	metrics *observability.Collector,
	logger *zap.Logger,
) *RuntimeHost {
	return &RuntimeHost{
		builder:     builder,
		pools:       pools,
		caches:      caches,
		publisher:   publisher,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		hooks:       extensions.NewHookManager(),
		deployments: make(map[string]*deployment),
	}
}

// Hooks exposes the host's extension points. Embedders register hooks
// before serving traffic.
func (h *RuntimeHost) Hooks() *extensions.HookManager {
	return h.hooks
}

// RegisterType builds the chain templates for a component type and prepares
// its pool and identity cache. A build failure deploys nothing.
func (h *RuntimeHost) RegisterType(ctx context.Context, reg Registration) error {
	if reg.NewTarget == nil {
		return pkgerrors.NewValidationError("registration requires a target factory")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	typeName := reg.Build.TypeName
	if _, exists := h.deployments[typeName]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("component type %q is already registered", typeName))
	}

	if err := h.hooks.Execute(ctx, extensions.HookBeforeTypeRegister, extensions.HookData{ComponentType: typeName}); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}

	componentType, err := h.builder.Build(reg.Build)
	if err != nil {
		h.logger.Error("component type build failed",
			zap.String("componentType", typeName),
			zap.Error(err))
		h.hooks.ExecuteAsync(ctx, extensions.HookTypeRegisterFailed, extensions.HookData{ComponentType: typeName, Error: err})
		return err
	}

	d := &deployment{
		componentType: componentType,
		callbacks:     reg.Callbacks,
	}
	d.pool = h.pools.NewPool(typeName, func(ctx context.Context) (*entities.ComponentInstance, error) {
		inst, err := entities.NewComponentInstance(typeName, reg.NewTarget(), d.callbacks, d.cache, h.logger)
		if err != nil {
			return nil, err
		}
		if err := inst.Construct(ctx, componentType.Templates()); err != nil {
			return nil, err
		}
		h.metrics.InstancesConstructed.WithLabelValues(typeName).Inc()
		h.drainEvents(ctx, inst)
		h.hooks.ExecuteAsync(ctx, extensions.HookInstanceConstructed, h.hookData(inst))
		return inst, nil
	})
	d.cache = h.caches.NewCache(typeName, d.pool)
	h.deployments[typeName] = d

	if h.cfg.Current().EnableLifecycleEvents {
		event := events.NewComponentTypeDeployed(typeName, len(componentType.Operations()), time.Now())
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.Warn("failed to publish deployment event",
				zap.String("componentType", typeName),
				zap.Error(err))
		}
	}
	h.hooks.ExecuteAsync(ctx, extensions.HookAfterTypeRegister, extensions.HookData{ComponentType: typeName})
	return nil
}

// Acquire returns the instance bound to an identity, associating a pooled
// instance on a cache miss. Callers release or remove what they acquire.
func (h *RuntimeHost) Acquire(ctx context.Context, typeName string, key valueobjects.IdentityKey) (*entities.ComponentInstance, error) {
	d, err := h.deployment(typeName)
	if err != nil {
		return nil, err
	}

	inst, err := d.cache.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	h.drainEvents(ctx, inst)
	h.hooks.ExecuteAsync(ctx, extensions.HookInstanceAcquired, h.hookData(inst))
	return inst, nil
}

// Invoke acquires the identity-bound instance and dispatches one operation
// through its around-invoke chain. A lifecycle failure during association
// discards the failing instance before returning.
func (h *RuntimeHost) Invoke(ctx context.Context, typeName string, key valueobjects.IdentityKey, op valueobjects.Signature, args []interface{}) (interface{}, error) {
	inst, err := h.Acquire(ctx, typeName, key)
	if err != nil {
		return nil, err
	}

	data := h.hookData(inst)
	data.Operation = op.String()
	if hookErr := h.hooks.Execute(ctx, extensions.HookBeforeInvoke, data); hookErr != nil {
		return nil, pkgerrors.NewDispatchError(op.String(), hookErr)
	}

	result, err := inst.Invoke(ctx, op, args)
	if err != nil {
		data.Error = err
		h.hooks.ExecuteAsync(ctx, extensions.HookInvokeFailed, data)
		if pkgerrors.IsLifecycle(err) {
			inst.Discard(ctx)
			h.drainEvents(ctx, inst)
			h.hooks.ExecuteAsync(ctx, extensions.HookInstanceDiscarded, data)
		}
		return result, err
	}
	h.hooks.ExecuteAsync(ctx, extensions.HookAfterInvoke, data)
	return result, nil
}

// Store flushes the instance bound to an identity
func (h *RuntimeHost) Store(ctx context.Context, typeName string, key valueobjects.IdentityKey) error {
	inst, err := h.Acquire(ctx, typeName, key)
	if err != nil {
		return err
	}
	if err := inst.Store(ctx); err != nil {
		data := h.hookData(inst)
		inst.Discard(ctx)
		h.drainEvents(ctx, inst)
		h.hooks.ExecuteAsync(ctx, extensions.HookInstanceDiscarded, data)
		return err
	}
	h.metrics.Stores.WithLabelValues(typeName).Inc()
	return nil
}

// Release passivates an instance and returns it toward the pool
func (h *RuntimeHost) Release(ctx context.Context, typeName string, inst *entities.ComponentInstance) error {
	d, err := h.deployment(typeName)
	if err != nil {
		return err
	}
	data := h.hookData(inst)
	if err := d.cache.Release(ctx, inst); err != nil {
		return err
	}
	h.drainEvents(ctx, inst)
	h.hooks.ExecuteAsync(ctx, extensions.HookInstanceReleased, data)
	return nil
}

// Remove marks the entity behind an identity as removed and permanently
// invalidates its instance. Store and passivation callbacks never fire for
// a removed instance.
func (h *RuntimeHost) Remove(ctx context.Context, typeName string, key valueobjects.IdentityKey) error {
	inst, err := h.Acquire(ctx, typeName, key)
	if err != nil {
		return err
	}
	data := h.hookData(inst)
	inst.SetRemoved(true)
	inst.Discard(ctx)
	h.metrics.InstancesDiscarded.WithLabelValues(typeName).Inc()
	h.drainEvents(ctx, inst)
	h.hooks.ExecuteAsync(ctx, extensions.HookInstanceDiscarded, data)
	h.hooks.ExecuteAsync(ctx, extensions.HookInstanceRemoved, data)
	return nil
}

// ComponentType returns the immutable deployed type descriptor
func (h *RuntimeHost) ComponentType(typeName string) (*aggregates.ComponentType, error) {
	d, err := h.deployment(typeName)
	if err != nil {
		return nil, err
	}
	return d.componentType, nil
}

// RegisteredTypes returns the deployed component type names
func (h *RuntimeHost) RegisteredTypes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.deployments))
	for name := range h.deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *RuntimeHost) hookData(inst *entities.ComponentInstance) extensions.HookData {
	return extensions.HookData{
		ComponentType: inst.ComponentTypeName(),
		InstanceID:    inst.InstanceID().String(),
		IdentityKey:   inst.Identity().String(),
	}
}

func (h *RuntimeHost) deployment(typeName string) (*deployment, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.deployments[typeName]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("component type %q", typeName))
	}
	return d, nil
}

// drainEvents publishes and clears an instance's uncommitted domain events.
// Publishing is best effort; a publisher failure never fails the lifecycle
// operation that produced the events.
func (h *RuntimeHost) drainEvents(ctx context.Context, inst *entities.ComponentInstance) {
	if !h.cfg.Current().EnableLifecycleEvents {
		inst.MarkEventsAsCommitted()
		return
	}
	pending := inst.GetUncommittedEvents()
	if len(pending) == 0 {
		return
	}
	if err := h.publisher.PublishBatch(ctx, pending); err != nil {
		h.logger.Warn("failed to publish lifecycle events",
			zap.String("instanceID", inst.InstanceID().String()),
			zap.Int("count", len(pending)),
			zap.Error(err))
		return
	}
	inst.MarkEventsAsCommitted()
}
