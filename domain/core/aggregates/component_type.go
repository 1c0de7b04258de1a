package aggregates

import (
	"chassis/domain/core/valueobjects"
	"chassis/domain/interceptor"
	pkgerrors "chassis/pkg/errors"
)

// ComponentType identifies a kind of managed component. It owns the built
// chain template set and the deployment flags the templates were built
// under. Immutable once created; a type whose templates failed to build is
// never constructed at all.
type ComponentType struct {
	name                 string
	templates            *interceptor.TemplateSet
	operations           []valueobjects.Signature
	passivationCapable   bool
	timerServiceRequired bool
}

// NewComponentType creates an immutable component type from a frozen
// template set
func NewComponentType(
	name string,
	templates *interceptor.TemplateSet,
	operations []valueobjects.Signature,
	passivationCapable bool,
	timerServiceRequired bool,
) (*ComponentType, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("component type name cannot be empty")
	}
	if templates == nil {
		return nil, pkgerrors.NewValidationError("component type requires a template set")
	}
	for phase, t := range templates.Lifecycle {
		if !t.Frozen() {
			return nil, pkgerrors.NewBuildError(name, "template for phase "+string(phase)+" is not frozen")
		}
	}
	for op, t := range templates.Operations {
		if !t.Frozen() {
			return nil, pkgerrors.NewBuildError(name, "template for operation "+op+" is not frozen")
		}
	}

	ops := make([]valueobjects.Signature, len(operations))
	copy(ops, operations)
	return &ComponentType{
		name:                 name,
		templates:            templates,
		operations:           ops,
		passivationCapable:   passivationCapable,
		timerServiceRequired: timerServiceRequired,
	}, nil
}

// Name returns the component type name
func (t *ComponentType) Name() string {
	return t.name
}

// Templates returns the immutable chain template set
func (t *ComponentType) Templates() *interceptor.TemplateSet {
	return t.templates
}

// Operations returns a copy of the invocable operation signatures
func (t *ComponentType) Operations() []valueobjects.Signature {
	ops := make([]valueobjects.Signature, len(t.operations))
	copy(ops, t.operations)
	return ops
}

// PassivationCapable reports whether passivation chains were built
func (t *ComponentType) PassivationCapable() bool {
	return t.passivationCapable
}

// TimerServiceRequired reports whether timeout operations use the
// around-timeout contribution list
func (t *ComponentType) TimerServiceRequired() bool {
	return t.timerServiceRequired
}
