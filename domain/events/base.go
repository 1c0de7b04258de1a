package events

import (
	"time"

	"chassis/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Instance lifecycle events

// InstanceConstructed is raised when an instance completes its
// post-construct chain and enters the pool
type InstanceConstructed struct {
	BaseEvent
	InstanceID    valueobjects.InstanceID `json:"instance_id"`
	ComponentType string                  `json:"component_type"`
}

// NewInstanceConstructed creates an InstanceConstructed event
func NewInstanceConstructed(instanceID valueobjects.InstanceID, componentType string, timestamp time.Time) InstanceConstructed {
	return InstanceConstructed{
		BaseEvent: BaseEvent{
			AggregateID: instanceID.String(),
			EventType:   "instance.constructed",
			Timestamp:   timestamp,
			Version:     1,
		},
		InstanceID:    instanceID,
		ComponentType: componentType,
	}
}

// InstanceAssociated is raised when an instance is bound to an identity
type InstanceAssociated struct {
	BaseEvent
	InstanceID    valueobjects.InstanceID  `json:"instance_id"`
	ComponentType string                   `json:"component_type"`
	IdentityKey   valueobjects.IdentityKey `json:"-"`
	Identity      string                   `json:"identity"`
}

// NewInstanceAssociated creates an InstanceAssociated event
func NewInstanceAssociated(instanceID valueobjects.InstanceID, componentType string, key valueobjects.IdentityKey, timestamp time.Time) InstanceAssociated {
	return InstanceAssociated{
		BaseEvent: BaseEvent{
			AggregateID: instanceID.String(),
			EventType:   "instance.associated",
			Timestamp:   timestamp,
			Version:     1,
		},
		InstanceID:    instanceID,
		ComponentType: componentType,
		IdentityKey:   key,
		Identity:      key.String(),
	}
}

// InstancePassivated is raised when an instance is detached from its
// identity and prepared for release back to the pool
type InstancePassivated struct {
	BaseEvent
	InstanceID    valueobjects.InstanceID `json:"instance_id"`
	ComponentType string                  `json:"component_type"`
	Identity      string                  `json:"identity"`
}

// NewInstancePassivated creates an InstancePassivated event
func NewInstancePassivated(instanceID valueobjects.InstanceID, componentType string, key valueobjects.IdentityKey, timestamp time.Time) InstancePassivated {
	return InstancePassivated{
		BaseEvent: BaseEvent{
			AggregateID: instanceID.String(),
			EventType:   "instance.passivated",
			Timestamp:   timestamp,
			Version:     1,
		},
		InstanceID:    instanceID,
		ComponentType: componentType,
		Identity:      key.String(),
	}
}

// InstanceDiscarded is raised exactly once when an instance is permanently
// invalidated
type InstanceDiscarded struct {
	BaseEvent
	InstanceID    valueobjects.InstanceID `json:"instance_id"`
	ComponentType string                  `json:"component_type"`
}

// NewInstanceDiscarded creates an InstanceDiscarded event
func NewInstanceDiscarded(instanceID valueobjects.InstanceID, componentType string, timestamp time.Time) InstanceDiscarded {
	return InstanceDiscarded{
		BaseEvent: BaseEvent{
			AggregateID: instanceID.String(),
			EventType:   "instance.discarded",
			Timestamp:   timestamp,
			Version:     1,
		},
		InstanceID:    instanceID,
		ComponentType: componentType,
	}
}

// Component type events

// ComponentTypeDeployed is raised when a component type's chain templates
// are built successfully
type ComponentTypeDeployed struct {
	BaseEvent
	ComponentType  string `json:"component_type"`
	OperationCount int    `json:"operation_count"`
}

// NewComponentTypeDeployed creates a ComponentTypeDeployed event
func NewComponentTypeDeployed(componentType string, operationCount int, timestamp time.Time) ComponentTypeDeployed {
	return ComponentTypeDeployed{
		BaseEvent: BaseEvent{
			AggregateID: componentType,
			EventType:   "component_type.deployed",
			Timestamp:   timestamp,
			Version:     1,
		},
		ComponentType:  componentType,
		OperationCount: operationCount,
	}
}
