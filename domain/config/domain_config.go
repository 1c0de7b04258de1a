package config

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DomainConfig holds all configurable runtime rules and constraints
type DomainConfig struct {
	// Pool constraints
	MaxPoolSize        int
	MaxCachedInstances int

	// Lifecycle timing
	CallbackTimeout time.Duration
	StoreInterval   time.Duration

	// Deployment constraints
	MaxHierarchyDepth    int
	MaxChainDepth        int
	MaxOperationsPerType int

	// Validation settings
	AllowEmptyDescriptors bool
	StrictHomeResolution  bool

	// Feature flags
	EnablePassivation     bool
	EnableTimerService    bool
	EnableLifecycleEvents bool
}

// DefaultDomainConfig returns the default runtime configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxPoolSize:        64,
		MaxCachedInstances: 1024,

		CallbackTimeout: 30 * time.Second,
		StoreInterval:   0, // no periodic store by default

		MaxHierarchyDepth:    32,
		MaxChainDepth:        64,
		MaxOperationsPerType: 256,

		AllowEmptyDescriptors: true,
		StrictHomeResolution:  true,

		EnablePassivation:     true,
		EnableTimerService:    false,
		EnableLifecycleEvents: true,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// Tighter limits for production
	config.MaxPoolSize = 32
	config.MaxCachedInstances = 512
	config.CallbackTimeout = 10 * time.Second
	config.AllowEmptyDescriptors = false

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// More permissive for development
	config.MaxPoolSize = 256
	config.MaxCachedInstances = 8192
	config.AllowEmptyDescriptors = true
	config.EnableTimerService = true

	return config
}

// LoadDomainConfig loads runtime configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Store holds the active runtime configuration and swaps it atomically on
// reload. Readers take a snapshot per operation; a snapshot is never
// mutated after it is installed.
type Store struct {
	current atomic.Pointer[DomainConfig]
}

// NewStore creates a Store seeded with the given configuration
func NewStore(cfg *DomainConfig) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration snapshot
func (s *Store) Current() *DomainConfig {
	return s.current.Load()
}

// Replace installs a new configuration snapshot. The previous snapshot
// stays valid for readers that already hold it.
func (s *Store) Replace(cfg *DomainConfig) {
	s.current.Store(cfg)
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxPoolSize <= 0 {
		return fmt.Errorf("MaxPoolSize must be positive, got %d", c.MaxPoolSize)
	}
	if c.MaxCachedInstances < c.MaxPoolSize {
		return fmt.Errorf("MaxCachedInstances (%d) cannot be smaller than MaxPoolSize (%d)", c.MaxCachedInstances, c.MaxPoolSize)
	}
	if c.MaxHierarchyDepth <= 0 {
		return fmt.Errorf("MaxHierarchyDepth must be positive, got %d", c.MaxHierarchyDepth)
	}
	return nil
}
