package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chassis/application/ports"
	"chassis/domain/config"
	"chassis/domain/core/entities"
	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
	"chassis/pkg/observability"
)

// cacheEntry guards the association of one identity. Acquirers of the same
// key serialize on the entry mutex so at most one instance is ever
// associated per identity.
type cacheEntry struct {
	mu   sync.Mutex
	inst *entities.ComponentInstance
}

// IdentityCache holds identity-associated instances for one component type.
// A miss takes a pooled instance and associates it; a failed association
// discards the instance before the error is returned, so the caller never
// sees a half-associated entry.
type IdentityCache struct {
	typeName string
	pool     ports.InstancePool
	maxSize  int
	metrics  *observability.Collector
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewIdentityCache creates an empty cache backed by the type's pool
func NewIdentityCache(
	typeName string,
	pool ports.InstancePool,
	cfg *config.DomainConfig,
	metrics *observability.Collector,
	logger *zap.Logger,
) *IdentityCache {
	return &IdentityCache{
		typeName: typeName,
		pool:     pool,
		maxSize:  cfg.MaxCachedInstances,
		metrics:  metrics,
		logger:   logger,
		entries:  make(map[string]*cacheEntry),
	}
}

// Acquire returns the instance bound to the identity, associating a pooled
// instance on a miss
func (c *IdentityCache) Acquire(ctx context.Context, key valueobjects.IdentityKey) (*entities.ComponentInstance, error) {
	if key.IsZero() {
		return nil, pkgerrors.NewValidationError("identity key cannot be empty")
	}

	c.mu.Lock()
	entry, ok := c.entries[key.String()]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key.String()] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.inst != nil && !entry.inst.Discarded() {
		c.metrics.CacheHits.Inc()
		return entry.inst, nil
	}
	c.metrics.CacheMisses.Inc()

	if err := c.shedOver(ctx, key.String()); err != nil {
		c.dropEntry(key.String(), entry)
		return nil, err
	}

	inst, err := c.pool.Take(ctx)
	if err != nil {
		c.dropEntry(key.String(), entry)
		return nil, err
	}
	if err := inst.Associate(ctx, key); err != nil {
		inst.Discard(ctx)
		c.dropEntry(key.String(), entry)
		return nil, err
	}

	entry.inst = inst
	c.metrics.Activations.WithLabelValues(c.typeName).Inc()
	c.metrics.CachedEntities.WithLabelValues(c.typeName).Set(float64(c.size()))
	return inst, nil
}

// Release passivates an instance and returns it to the pool
func (c *IdentityCache) Release(ctx context.Context, inst *entities.ComponentInstance) error {
	if inst == nil {
		return pkgerrors.NewValidationError("instance cannot be nil")
	}

	key := inst.Identity()
	if !key.IsZero() {
		c.mu.Lock()
		if entry, ok := c.entries[key.String()]; ok && entry.inst == inst {
			delete(c.entries, key.String())
		}
		c.mu.Unlock()
	}

	if err := inst.Passivate(ctx); err != nil {
		return err
	}
	c.metrics.Passivations.WithLabelValues(c.typeName).Inc()
	c.metrics.CachedEntities.WithLabelValues(c.typeName).Set(float64(c.size()))
	c.pool.Put(ctx, inst)
	return nil
}

// Evict implements entities.EvictionNotifier. Discard raises it at most
// once per instance; the cache forgets the mapping so the identity can be
// re-associated with a fresh instance.
func (c *IdentityCache) Evict(ctx context.Context, inst *entities.ComponentInstance) error {
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.inst == inst {
			delete(c.entries, key)
			break
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.Evictions.WithLabelValues(c.typeName).Inc()
	c.metrics.CachedEntities.WithLabelValues(c.typeName).Set(float64(size))
	return nil
}

// Size returns the number of cached identities
func (c *IdentityCache) Size() int {
	return c.size()
}

func (c *IdentityCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// dropEntry removes a placeholder created for a failed association
func (c *IdentityCache) dropEntry(key string, entry *cacheEntry) {
	c.mu.Lock()
	if current, ok := c.entries[key]; ok && current == entry {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// shedOver passivates one associated victim when the cache is full.
// The victim's acquirers serialize on its entry mutex, so an in-use entry
// is simply skipped.
func (c *IdentityCache) shedOver(ctx context.Context, acquiring string) error {
	c.mu.Lock()
	if len(c.entries) < c.maxSize {
		c.mu.Unlock()
		return nil
	}
	var victimKey string
	var victim *cacheEntry
	for key, entry := range c.entries {
		if key == acquiring || entry.inst == nil {
			continue
		}
		victimKey, victim = key, entry
		break
	}
	c.mu.Unlock()

	if victim == nil {
		return pkgerrors.NewUnavailableError("identity cache for " + c.typeName)
	}
	if !victim.mu.TryLock() {
		// in use right now, let the acquire proceed over the limit
		c.logger.Debug("cache over limit with busy victim",
			zap.String("componentType", c.typeName))
		return nil
	}
	defer victim.mu.Unlock()

	inst := victim.inst
	if inst == nil || inst.Discarded() {
		c.dropEntry(victimKey, victim)
		return nil
	}

	c.mu.Lock()
	delete(c.entries, victimKey)
	c.mu.Unlock()

	if err := inst.Passivate(ctx); err != nil {
		c.logger.Warn("passivation of cache victim failed, discarding",
			zap.String("componentType", c.typeName),
			zap.Error(err))
		inst.Discard(ctx)
		return nil
	}
	c.metrics.Passivations.WithLabelValues(c.typeName).Inc()
	c.pool.Put(ctx, inst)
	return nil
}

// CacheFactory creates identity caches wired to the runtime configuration
type CacheFactory struct {
	cfg     *config.Store
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewCacheFactory creates a CacheFactory
func NewCacheFactory(cfg *config.Store, metrics *observability.Collector, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{cfg: cfg, metrics: metrics, logger: logger}
}

// NewCache implements ports.CacheFactory. Limits are read at cache
// creation, so a reloaded configuration applies to later deployments.
func (f *CacheFactory) NewCache(typeName string, pool ports.InstancePool) ports.InstanceCache {
	return NewIdentityCache(typeName, pool, f.cfg.Current(), f.metrics, f.logger)
}
