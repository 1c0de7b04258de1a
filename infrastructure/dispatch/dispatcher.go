// Package dispatch provides the target dispatch collaborator. Operations
// are bound to handler functions at registration time; dispatch is a map
// lookup, no runtime type inspection.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"chassis/application/ports"
	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
)

// OperationFunc invokes one operation or callback against a target object.
// The handler type-asserts the target itself.
type OperationFunc func(ctx context.Context, target interface{}, args []interface{}) (interface{}, error)

// FuncDispatcher implements ports.TargetDispatcher from registered handler
// functions keyed by canonical operation signature
type FuncDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]OperationFunc
}

// NewFuncDispatcher creates an empty dispatcher
func NewFuncDispatcher() *FuncDispatcher {
	return &FuncDispatcher{
		handlers: make(map[string]OperationFunc),
	}
}

// Register binds a handler to an operation signature. Re-registration
// replaces the previous handler.
func (d *FuncDispatcher) Register(sig valueobjects.Signature, fn OperationFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[sig.String()] = fn
}

// Dispatch implements ports.TargetDispatcher. The handler's failure is
// propagated unchanged; translation is the chain's concern.
func (d *FuncDispatcher) Dispatch(ctx context.Context, target interface{}, sig valueobjects.Signature, args []interface{}) (interface{}, error) {
	d.mu.RLock()
	fn, ok := d.handlers[sig.String()]
	d.mu.RUnlock()

	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("handler for operation %q", sig.String()))
	}
	return fn(ctx, target, args)
}

var _ ports.TargetDispatcher = (*FuncDispatcher)(nil)
