// Package schema upgrades persisted entity snapshots across versions.
// Snapshots are written with the schema version current at the time; when
// a newer deployment loads an older snapshot, the registered upgraders run
// in sequence before the state reaches the target object.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Upgrader transforms a snapshot from one schema version to the next
type Upgrader func(state map[string]interface{}) (map[string]interface{}, error)

type step struct {
	fromVersion int
	description string
	up          Upgrader
}

// Evolution holds per-component-type upgrade chains
type Evolution struct {
	mu    sync.RWMutex
	steps map[string][]step // componentType -> steps sorted by fromVersion
}

// NewEvolution creates an empty evolution registry
func NewEvolution() *Evolution {
	return &Evolution{steps: make(map[string][]step)}
}

// Register adds the upgrade from fromVersion to fromVersion+1 for one
// component type. Registering the same step twice is an error.
func (e *Evolution) Register(componentType string, fromVersion int, description string, up Upgrader) error {
	if fromVersion < 1 {
		return fmt.Errorf("invalid schema version %d for %s", fromVersion, componentType)
	}
	if up == nil {
		return fmt.Errorf("nil upgrader for %s v%d", componentType, fromVersion)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.steps[componentType] {
		if existing.fromVersion == fromVersion {
			return fmt.Errorf("upgrade from v%d already registered for %s", fromVersion, componentType)
		}
	}

	e.steps[componentType] = append(e.steps[componentType], step{
		fromVersion: fromVersion,
		description: description,
		up:          up,
	})
	sort.Slice(e.steps[componentType], func(i, j int) bool {
		return e.steps[componentType][i].fromVersion < e.steps[componentType][j].fromVersion
	})
	return nil
}

// CurrentVersion returns the version snapshots of this type are written
// at, which is one past the last registered upgrade. Types with no
// upgrades are at version 1.
func (e *Evolution) CurrentVersion(componentType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	steps := e.steps[componentType]
	if len(steps) == 0 {
		return 1
	}
	return steps[len(steps)-1].fromVersion + 1
}

// Upgrade brings a snapshot written at storedVersion up to the current
// version. The chain must be contiguous; a gap means a deployment skipped
// an upgrader and loading must fail rather than misread the state.
func (e *Evolution) Upgrade(componentType string, storedVersion int, state map[string]interface{}) (map[string]interface{}, int, error) {
	e.mu.RLock()
	steps := e.steps[componentType]
	e.mu.RUnlock()

	version := storedVersion
	if version < 1 {
		version = 1
	}

	current := e.CurrentVersion(componentType)
	for version < current {
		up := e.find(steps, version)
		if up == nil {
			return nil, version, fmt.Errorf("no upgrade from v%d to v%d for %s", version, version+1, componentType)
		}
		next, err := up.up(state)
		if err != nil {
			return nil, version, fmt.Errorf("upgrade %s v%d->v%d failed: %w", componentType, version, version+1, err)
		}
		state = next
		version++
	}
	return state, version, nil
}

func (e *Evolution) find(steps []step, fromVersion int) *step {
	for i := range steps {
		if steps[i].fromVersion == fromVersion {
			return &steps[i]
		}
	}
	return nil
}
