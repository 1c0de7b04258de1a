package valueobjects

import "errors"

// IdentityKey is the external key associating an instance with persisted
// state, e.g. a primary key. The zero value means "not associated".
type IdentityKey struct {
	value string
}

// NewIdentityKey creates an IdentityKey from a non-empty string
func NewIdentityKey(key string) (IdentityKey, error) {
	if key == "" {
		return IdentityKey{}, errors.New("identity key cannot be empty")
	}
	return IdentityKey{value: key}, nil
}

// String returns the string representation of the IdentityKey
func (k IdentityKey) String() string {
	return k.value
}

// Equals checks if two IdentityKeys are equal
func (k IdentityKey) Equals(other IdentityKey) bool {
	return k.value == other.value
}

// IsZero checks if the IdentityKey is the zero value
func (k IdentityKey) IsZero() bool {
	return k.value == ""
}
