package common

import (
	"context"
	"time"
)

// ContextKey represents a context key type
type ContextKey string

// Context keys
const (
	ContextKeyComponentType ContextKey = "component_type"
	ContextKeyInstanceID    ContextKey = "instance_id"
	ContextKeyOperation     ContextKey = "operation"
	ContextKeyPrincipal     ContextKey = "principal"
	ContextKeyStartTime     ContextKey = "start_time"
)

// SystemPrincipal is the principal propagated when a lifecycle transition
// runs outside any caller context
const SystemPrincipal = "system"

// WithComponentType adds the component type name to context
func WithComponentType(ctx context.Context, typeName string) context.Context {
	return context.WithValue(ctx, ContextKeyComponentType, typeName)
}

// GetComponentType extracts the component type name from context
func GetComponentType(ctx context.Context) (string, bool) {
	typeName, ok := ctx.Value(ContextKeyComponentType).(string)
	return typeName, ok
}

// WithInstanceID adds the instance ID to context
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, ContextKeyInstanceID, instanceID)
}

// GetInstanceID extracts the instance ID from context
func GetInstanceID(ctx context.Context) (string, bool) {
	instanceID, ok := ctx.Value(ContextKeyInstanceID).(string)
	return instanceID, ok
}

// WithOperation adds the current operation signature to context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GetOperation extracts the current operation signature from context
func GetOperation(ctx context.Context) (string, bool) {
	operation, ok := ctx.Value(ContextKeyOperation).(string)
	return operation, ok
}

// WithPrincipal adds the caller principal to context
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// GetPrincipal extracts the caller principal from context
func GetPrincipal(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(ContextKeyPrincipal).(string)
	return principal, ok
}

// WithStartTime adds start time to context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyStartTime, startTime)
}

// GetStartTime extracts start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	startTime, ok := ctx.Value(ContextKeyStartTime).(time.Time)
	return startTime, ok
}

// GetElapsedTime calculates elapsed time from start time in context
func GetElapsedTime(ctx context.Context) time.Duration {
	if startTime, ok := GetStartTime(ctx); ok {
		return time.Since(startTime)
	}
	return 0
}

// ContextMetadata contains all context metadata
type ContextMetadata struct {
	ComponentType string        `json:"component_type,omitempty"`
	InstanceID    string        `json:"instance_id,omitempty"`
	Operation     string        `json:"operation,omitempty"`
	Principal     string        `json:"principal,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// ExtractMetadata extracts all metadata from context
func ExtractMetadata(ctx context.Context) ContextMetadata {
	meta := ContextMetadata{}

	if typeName, ok := GetComponentType(ctx); ok {
		meta.ComponentType = typeName
	}
	if instanceID, ok := GetInstanceID(ctx); ok {
		meta.InstanceID = instanceID
	}
	if operation, ok := GetOperation(ctx); ok {
		meta.Operation = operation
	}
	if principal, ok := GetPrincipal(ctx); ok {
		meta.Principal = principal
	}
	meta.Duration = GetElapsedTime(ctx)

	return meta
}
