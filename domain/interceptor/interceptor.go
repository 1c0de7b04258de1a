package interceptor

import (
	"context"

	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
)

// InstanceRef is the view of a component instance that factories and
// interceptors are allowed to see. The full instance entity lives in the
// domain layer and implements this interface.
type InstanceRef interface {
	InstanceID() valueobjects.InstanceID
	ComponentTypeName() string
	// Target returns the opaque user object wrapped by the instance
	Target() interface{}
}

// Invocation carries the current operation, its arguments and the proceed
// capability through a chain. One Invocation is used per chain run and must
// not be shared across goroutines.
type Invocation struct {
	Phase     Phase
	Operation valueobjects.Signature
	Args      []interface{}
	Instance  InstanceRef

	chain []Interceptor
	next  int
}

// Proceed invokes the next interceptor in the chain. The terminal-band
// interceptor performs the actual dispatch and never calls Proceed.
func (inv *Invocation) Proceed(ctx context.Context) (interface{}, error) {
	if inv.next >= len(inv.chain) {
		return nil, pkgerrors.NewInternalError("proceed called past the end of the chain").
			WithDetails(map[string]interface{}{"phase": string(inv.Phase), "operation": inv.Operation.String()})
	}
	current := inv.chain[inv.next]
	inv.next++
	return current.Intercept(ctx, inv)
}

// Interceptor is a materialized, instance-bound handler in a chain
type Interceptor interface {
	Intercept(ctx context.Context, inv *Invocation) (interface{}, error)
}

// Func adapts a function to the Interceptor interface
type Func func(ctx context.Context, inv *Invocation) (interface{}, error)

// Intercept implements Interceptor
func (f Func) Intercept(ctx context.Context, inv *Invocation) (interface{}, error) {
	return f(ctx, inv)
}

// Factory materializes an interceptor for one component instance.
// Factories are stateless and shared across instances of a component type;
// they never outlive the component type that owns them.
type Factory interface {
	Create(ref InstanceRef) Interceptor
}

// FactoryFunc adapts a function to the Factory interface
type FactoryFunc func(ref InstanceRef) Interceptor

// Create implements Factory
func (f FactoryFunc) Create(ref InstanceRef) Interceptor {
	return f(ref)
}

// ImmediateFactory returns the same interceptor for every instance.
// Used for stateless system interceptors.
func ImmediateFactory(i Interceptor) Factory {
	return FactoryFunc(func(InstanceRef) Interceptor { return i })
}
