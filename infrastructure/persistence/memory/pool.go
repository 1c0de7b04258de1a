// Package memory implements the in-process instance pool and identity
// cache collaborators the lifecycle state machine plugs into.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chassis/application/ports"
	"chassis/domain/config"
	"chassis/domain/core/entities"
	pkgerrors "chassis/pkg/errors"
	"chassis/pkg/observability"
)

// InstancePool holds unassociated instances in state POOLED.
// Take constructs a fresh instance when the pool is empty; Put drops
// instances beyond the configured maximum and destroys them.
type InstancePool struct {
	typeName  string
	construct func(ctx context.Context) (*entities.ComponentInstance, error)
	maxSize   int
	metrics   *observability.Collector
	logger    *zap.Logger

	mu   sync.Mutex
	idle []*entities.ComponentInstance
}

// NewInstancePool creates an empty pool for one component type
func NewInstancePool(
	typeName string,
	construct func(ctx context.Context) (*entities.ComponentInstance, error),
	cfg *config.DomainConfig,
	metrics *observability.Collector,
	logger *zap.Logger,
) *InstancePool {
	return &InstancePool{
		typeName:  typeName,
		construct: construct,
		maxSize:   cfg.MaxPoolSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Take returns a pooled instance, constructing one on an empty pool
func (p *InstancePool) Take(ctx context.Context) (*entities.ComponentInstance, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		inst := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.metrics.PoolSize.WithLabelValues(p.typeName).Set(float64(n - 1))
		return inst, nil
	}
	p.mu.Unlock()

	inst, err := p.construct(ctx)
	if err != nil {
		return nil, err
	}
	if inst.State() != entities.StatePooled {
		return nil, pkgerrors.NewInternalError("constructed instance is not pooled")
	}
	return inst, nil
}

// Put returns an instance to the pool. Discarded instances are never
// reused; overflow instances are destroyed.
func (p *InstancePool) Put(ctx context.Context, inst *entities.ComponentInstance) {
	if inst == nil || inst.Discarded() {
		return
	}
	if inst.State() != entities.StatePooled && inst.State() != entities.StatePassivated {
		p.logger.Warn("refusing to pool instance in unexpected state",
			zap.String("componentType", p.typeName),
			zap.String("state", string(inst.State())))
		return
	}

	p.mu.Lock()
	if len(p.idle) >= p.maxSize {
		p.mu.Unlock()
		if err := inst.Destroy(ctx); err != nil {
			p.logger.Warn("destroy of overflow instance failed",
				zap.String("componentType", p.typeName),
				zap.Error(err))
		}
		return
	}
	p.idle = append(p.idle, inst)
	size := len(p.idle)
	p.mu.Unlock()
	p.metrics.PoolSize.WithLabelValues(p.typeName).Set(float64(size))
}

// Drain destroys every idle instance. Used during shutdown.
func (p *InstancePool) Drain(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, inst := range idle {
		if err := inst.Destroy(ctx); err != nil {
			p.logger.Warn("destroy during drain failed",
				zap.String("componentType", p.typeName),
				zap.Error(err))
		}
	}
	p.metrics.PoolSize.WithLabelValues(p.typeName).Set(0)
}

// Size returns the number of idle instances
func (p *InstancePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// PoolFactory creates pools wired to the runtime configuration
type PoolFactory struct {
	cfg     *config.Store
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewPoolFactory creates a PoolFactory
func NewPoolFactory(cfg *config.Store, metrics *observability.Collector, logger *zap.Logger) *PoolFactory {
	return &PoolFactory{cfg: cfg, metrics: metrics, logger: logger}
}

// NewPool implements ports.PoolFactory. Limits are read at pool creation,
// so a reloaded configuration applies to later deployments.
func (f *PoolFactory) NewPool(typeName string, construct func(ctx context.Context) (*entities.ComponentInstance, error)) ports.InstancePool {
	return NewInstancePool(typeName, construct, f.cfg.Current(), f.metrics, f.logger)
}
