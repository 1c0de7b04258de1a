package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDomainConfigSelectsTier(t *testing.T) {
	assert.Equal(t, 256, LoadDomainConfig("development").MaxPoolSize)
	assert.Equal(t, 32, LoadDomainConfig("production").MaxPoolSize)
	assert.Equal(t, 64, LoadDomainConfig("unknown").MaxPoolSize)
}

func TestValidateRejectsInvalidLimits(t *testing.T) {
	cfg := DefaultDomainConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxPoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultDomainConfig()
	cfg.MaxCachedInstances = cfg.MaxPoolSize - 1
	assert.Error(t, cfg.Validate())
}

func TestStoreCurrentReflectsReplace(t *testing.T) {
	store := NewStore(DefaultDomainConfig())
	assert.Equal(t, 64, store.Current().MaxPoolSize)

	next := *store.Current()
	next.MaxPoolSize = 8
	store.Replace(&next)

	assert.Equal(t, 8, store.Current().MaxPoolSize)
}

func TestStoreSwapsUnderConcurrentReaders(t *testing.T) {
	store := NewStore(DefaultDomainConfig())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				cfg := store.Current()
				assert.Positive(t, cfg.MaxHierarchyDepth)
				assert.Positive(t, cfg.MaxPoolSize)
			}
		}()
	}
	for i := 0; i < 500; i++ {
		next := *store.Current()
		next.MaxPoolSize = 1 + i%64
		store.Replace(&next)
	}
	wg.Wait()
}
