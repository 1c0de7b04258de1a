package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the runtime
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Lifecycle metrics
	InstancesConstructed *prometheus.CounterVec
	InstancesDiscarded   *prometheus.CounterVec
	Activations          *prometheus.CounterVec
	Passivations         *prometheus.CounterVec
	Stores               *prometheus.CounterVec
	CallbackFailures     *prometheus.CounterVec
	CallbackDuration     *prometheus.HistogramVec

	// Pool and cache metrics
	PoolSize       *prometheus.GaugeVec
	CachedEntities *prometheus.GaugeVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	Evictions      *prometheus.CounterVec

	// Dispatch metrics
	Invocations      *prometheus.CounterVec
	InvocationErrors *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	instancesConstructed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_constructed_total",
			Help:      "Total number of component instances constructed",
		},
		[]string{"component_type"},
	)

	instancesDiscarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_discarded_total",
			Help:      "Total number of component instances discarded",
		},
		[]string{"component_type"},
	)

	activations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Total number of identity associations",
		},
		[]string{"component_type"},
	)

	passivations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passivations_total",
			Help:      "Total number of passivations",
		},
		[]string{"component_type"},
	)

	stores := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stores_total",
			Help:      "Total number of persistence synchronizations",
		},
		[]string{"component_type"},
	)

	callbackFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Total number of lifecycle callback failures",
		},
		[]string{"component_type", "callback"},
	)

	callbackDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_duration_seconds",
			Help:      "Lifecycle callback duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component_type", "callback"},
	)

	poolSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Current number of pooled instances",
		},
		[]string{"component_type"},
	)

	cachedEntities := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_entities",
			Help:      "Current number of identity-associated instances",
		},
		[]string{"component_type"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of identity cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of identity cache misses",
		},
	)

	evictions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of eviction notifications",
		},
		[]string{"component_type"},
	)

	invocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of dispatched operations",
		},
		[]string{"component_type", "operation"},
	)

	invocationErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocation_errors_total",
			Help:      "Total number of failed dispatches",
		},
		[]string{"component_type", "operation"},
	)

	registry.MustRegister(
		instancesConstructed,
		instancesDiscarded,
		activations,
		passivations,
		stores,
		callbackFailures,
		callbackDuration,
		poolSize,
		cachedEntities,
		cacheHits,
		cacheMisses,
		evictions,
		invocations,
		invocationErrors,
	)

	globalCollector = &Collector{
		registry:             registry,
		InstancesConstructed: instancesConstructed,
		InstancesDiscarded:   instancesDiscarded,
		Activations:          activations,
		Passivations:         passivations,
		Stores:               stores,
		CallbackFailures:     callbackFailures,
		CallbackDuration:     callbackDuration,
		PoolSize:             poolSize,
		CachedEntities:       cachedEntities,
		CacheHits:            cacheHits,
		CacheMisses:          cacheMisses,
		Evictions:            evictions,
		Invocations:          invocations,
		InvocationErrors:     invocationErrors,
	}
	return globalCollector
}

// Registry returns the prometheus registry backing this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveCallback records one lifecycle callback execution
func (c *Collector) ObserveCallback(componentType, callback string, duration time.Duration, err error) {
	c.CallbackDuration.WithLabelValues(componentType, callback).Observe(duration.Seconds())
	if err != nil {
		c.CallbackFailures.WithLabelValues(componentType, callback).Inc()
	}
}

// ResetForTesting clears the global collector so tests can register fresh
// metrics
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}
