package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypePredicates(t *testing.T) {
	cause := errors.New("boom")

	assert.True(t, IsBuild(NewBuildError("Order", "bad descriptor")))
	assert.True(t, IsLifecycle(NewLifecycleError("activate", cause)))
	assert.True(t, IsDispatch(NewDispatchError("get()", cause)))
	assert.True(t, IsNotFound(NewNotFoundError("component type")))
	assert.True(t, IsConflict(NewConflictError("already registered")))

	assert.False(t, IsBuild(NewConflictError("x")))
	assert.False(t, IsLifecycle(errors.New("plain")))
	assert.False(t, IsDispatch(nil))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("table missing")
	err := NewStoreError("load", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	inner := NewLifecycleError("store", errors.New("io"))
	wrapped := fmt.Errorf("during release: %w", inner)

	assert.True(t, IsLifecycle(wrapped))
	require.NotNil(t, GetRuntimeError(wrapped))
	assert.Equal(t, ErrorTypeLifecycle, GetRuntimeError(wrapped).Type)
}

func TestWithCodeAndDetails(t *testing.T) {
	err := NewValidationError("identity key cannot be empty").
		WithCode("EMPTY_KEY").
		WithDetails(map[string]interface{}{"field": "key"})

	assert.Equal(t, "EMPTY_KEY", err.Code)
	assert.Equal(t, "key", err.Details["field"])
}

func TestBuildErrorCarriesComponentType(t *testing.T) {
	err := NewBuildError("Cart", "two terminal contributions")
	assert.Equal(t, "Cart", err.Details["componentType"])
}

func TestWrapAddsContext(t *testing.T) {
	inner := NewNotFoundError("operation")
	wrapped := Wrap(inner, "invoke failed")

	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "invoke failed")

	// non-runtime errors become internal
	plain := Wrap(errors.New("oops"), "context")
	rt := GetRuntimeError(plain)
	require.NotNil(t, rt)
	assert.Equal(t, ErrorTypeInternal, rt.Type)

	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorType]int{
		ErrorTypeValidation:  http.StatusBadRequest,
		ErrorTypeNotFound:    http.StatusNotFound,
		ErrorTypeConflict:    http.StatusConflict,
		ErrorTypeBuild:       http.StatusUnprocessableEntity,
		ErrorTypeUnavailable: http.StatusServiceUnavailable,
		ErrorTypeLifecycle:   http.StatusInternalServerError,
		ErrorTypeDispatch:    http.StatusInternalServerError,
		ErrorTypeStore:       http.StatusInternalServerError,
		ErrorTypeInternal:    http.StatusInternalServerError,
	}
	for errType, want := range cases {
		assert.Equal(t, want, HTTPStatus(errType), string(errType))
	}
}

func TestErrorStringIncludesTypeAndCause(t *testing.T) {
	err := NewStoreError("passivate", errors.New("conditional check failed"))
	assert.Contains(t, err.Error(), "STORE")
	assert.Contains(t, err.Error(), "conditional check failed")
}
