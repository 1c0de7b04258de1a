package valueobjects

import (
	"errors"
	"strings"
)

// Signature identifies an operation by name, parameter types and return type.
// Two declarations with equal signatures on different levels of a type
// hierarchy are treated as overrides of the same logical operation.
type Signature struct {
	name       string
	paramTypes []string
	returnType string
}

// NewSignature creates a Signature with full type information
func NewSignature(name string, returnType string, paramTypes ...string) (Signature, error) {
	if name == "" {
		return Signature{}, errors.New("operation name cannot be empty")
	}
	params := make([]string, len(paramTypes))
	copy(params, paramTypes)
	return Signature{
		name:       name,
		paramTypes: params,
		returnType: returnType,
	}, nil
}

// MustSignature creates a Signature and panics on invalid input.
// Intended for static descriptor tables.
func MustSignature(name string, returnType string, paramTypes ...string) Signature {
	sig, err := NewSignature(name, returnType, paramTypes...)
	if err != nil {
		panic(err)
	}
	return sig
}

// Name returns the operation name
func (s Signature) Name() string {
	return s.name
}

// ReturnType returns the declared return type name
func (s Signature) ReturnType() string {
	return s.returnType
}

// ParamTypes returns a copy of the parameter type names
func (s Signature) ParamTypes() []string {
	params := make([]string, len(s.paramTypes))
	copy(params, s.paramTypes)
	return params
}

// String returns the canonical form, e.g. "store(string,int64) error".
// The canonical form is the override-suppression key: the return type is
// deliberately excluded, matching override rules where a more-derived type
// redeclares the same name and parameter list.
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.name)
	b.WriteByte('(')
	b.WriteString(strings.Join(s.paramTypes, ","))
	b.WriteByte(')')
	return b.String()
}

// Equals checks if two Signatures identify the same logical operation
func (s Signature) Equals(other Signature) bool {
	return s.String() == other.String()
}

// IsZero checks if the Signature is the zero value
func (s Signature) IsZero() bool {
	return s.name == ""
}
