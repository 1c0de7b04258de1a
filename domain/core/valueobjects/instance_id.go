package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// InstanceID is a value object identifying a single component instance
// Value objects are immutable and have no identity beyond their value
type InstanceID struct {
	value string
}

// NewInstanceID creates a new random InstanceID
func NewInstanceID() InstanceID {
	return InstanceID{value: uuid.New().String()}
}

// NewInstanceIDFromString creates an InstanceID from an existing string
func NewInstanceIDFromString(id string) (InstanceID, error) {
	if id == "" {
		return InstanceID{}, errors.New("instance ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return InstanceID{}, errors.New("instance ID must be a valid UUID")
	}
	return InstanceID{value: id}, nil
}

// String returns the string representation of the InstanceID
func (id InstanceID) String() string {
	return id.value
}

// Equals checks if two InstanceIDs are equal
func (id InstanceID) Equals(other InstanceID) bool {
	return id.value == other.value
}

// IsZero checks if the InstanceID is the zero value
func (id InstanceID) IsZero() bool {
	return id.value == ""
}
