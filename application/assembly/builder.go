// Package assembly builds the immutable interceptor chain templates for a
// component type. Building happens once per type at deployment time; the
// caller serializes builds per type, so the builder keeps no locks.
package assembly

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chassis/application/ports"
	"chassis/domain/config"
	"chassis/domain/core/aggregates"
	"chassis/domain/core/valueobjects"
	"chassis/domain/interceptor"
	"chassis/pkg/common"
	pkgerrors "chassis/pkg/errors"
	"chassis/pkg/observability"
)

// ContextAware is implemented by target objects that want the runtime to
// bind their instance context. Binding happens in the resource-injection
// band of post-construct and is undone in the uninjection band of
// pre-destroy.
type ContextAware interface {
	BindInstance(ref interceptor.InstanceRef)
	UnbindInstance()
}

// BuildInput describes one component type to assemble templates for
type BuildInput struct {
	TypeName             string
	Operations           []valueobjects.Signature
	TimeoutOperations    []valueobjects.Signature
	PassivationCapable   bool
	TimerServiceRequired bool
}

// Builder walks the type hierarchy, collects user callback declarations
// with override suppression, merges them with the fixed system factories
// and emits one frozen template per phase and per invocable operation.
type Builder struct {
	descriptors ports.DescriptorProvider
	hierarchy   ports.HierarchyProvider
	dispatcher  ports.TargetDispatcher
	cfg         *config.Store
	tracer      *observability.Tracer
	metrics     *observability.Collector
	logger      *zap.Logger
}

// NewBuilder creates a Builder with its collaborators
func NewBuilder(
	descriptors ports.DescriptorProvider,
	hierarchy ports.HierarchyProvider,
	dispatcher ports.TargetDispatcher,
	cfg *config.Store,
	tracer *observability.Tracer,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		descriptors: descriptors,
		hierarchy:   hierarchy,
		dispatcher:  dispatcher,
		cfg:         cfg,
		tracer:      tracer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Build assembles the full template set for a component type. A failure is
// fatal for the type: no partially built ComponentType is ever returned.
func (b *Builder) Build(input BuildInput) (*aggregates.ComponentType, error) {
	if input.TypeName == "" {
		return nil, pkgerrors.NewBuildError("", "component type name cannot be empty")
	}

	// one snapshot per build; a concurrent reload takes effect on the next
	// deployment
	cfg := b.cfg.Current()

	hierarchy := b.hierarchy.HierarchyOf(input.TypeName)
	if len(hierarchy) == 0 {
		return nil, pkgerrors.NewBuildError(input.TypeName, "type hierarchy is empty")
	}
	if len(hierarchy) > cfg.MaxHierarchyDepth {
		return nil, pkgerrors.NewBuildError(input.TypeName,
			fmt.Sprintf("hierarchy depth %d exceeds limit %d", len(hierarchy), cfg.MaxHierarchyDepth))
	}
	if len(input.Operations) > cfg.MaxOperationsPerType {
		return nil, pkgerrors.NewBuildError(input.TypeName,
			fmt.Sprintf("%d operations exceed limit %d", len(input.Operations), cfg.MaxOperationsPerType))
	}

	set := interceptor.NewTemplateSet()
	declared := 0

	for _, phase := range lifecyclePhasesFor(input, cfg) {
		tmpl, n, err := b.buildLifecycleTemplate(input.TypeName, phase, hierarchy, cfg)
		if err != nil {
			return nil, err
		}
		declared += n
		set.Lifecycle[phase] = tmpl
	}

	timeouts := make(map[string]bool, len(input.TimeoutOperations))
	for _, op := range input.TimeoutOperations {
		timeouts[op.String()] = true
	}

	for _, op := range input.Operations {
		phase := interceptor.PhaseAroundInvoke
		if input.TimerServiceRequired && cfg.EnableTimerService && timeouts[op.String()] {
			// timeout operations take the around-timeout contribution
			// list instead of around-invoke's
			phase = interceptor.PhaseAroundTimeout
		}
		tmpl, n, err := b.buildOperationTemplate(input.TypeName, phase, op, hierarchy, cfg)
		if err != nil {
			return nil, err
		}
		declared += n
		set.Operations[op.String()] = tmpl
	}

	if declared == 0 && !cfg.AllowEmptyDescriptors {
		b.logger.Warn("component type declares no user callbacks",
			zap.String("componentType", input.TypeName))
	}

	if err := set.Freeze(); err != nil {
		return nil, err
	}

	componentType, err := aggregates.NewComponentType(
		input.TypeName,
		set,
		input.Operations,
		input.PassivationCapable,
		input.TimerServiceRequired,
	)
	if err != nil {
		return nil, err
	}

	b.logger.Info("component type assembled",
		zap.String("componentType", input.TypeName),
		zap.Int("lifecyclePhases", len(set.Lifecycle)),
		zap.Int("operations", len(set.Operations)),
		zap.Int("userCallbacks", declared))
	return componentType, nil
}

// lifecyclePhasesFor returns the lifecycle phases the type needs templates
// for. Passivation phases are only built for passivation-capable types.
func lifecyclePhasesFor(input BuildInput, cfg *config.DomainConfig) []interceptor.Phase {
	phases := []interceptor.Phase{interceptor.PhasePostConstruct, interceptor.PhasePreDestroy}
	if input.PassivationCapable && cfg.EnablePassivation {
		phases = append(phases, interceptor.PhasePrePassivate, interceptor.PhasePostActivate)
	}
	return phases
}

func (b *Builder) buildLifecycleTemplate(typeName string, phase interceptor.Phase, hierarchy []string, cfg *config.DomainConfig) (*interceptor.Template, int, error) {
	tmpl := interceptor.NewTemplate(phase)

	if err := tmpl.Add(interceptor.BandContextPropagation, "", b.contextPropagationFactory(phase)); err != nil {
		return nil, 0, err
	}
	if err := tmpl.Add(interceptor.BandSecurityContext, "", securityContextFactory()); err != nil {
		return nil, 0, err
	}

	switch phase {
	case interceptor.PhasePostConstruct:
		if err := tmpl.Add(interceptor.BandResourceInjection, "", injectionFactory()); err != nil {
			return nil, 0, err
		}
	case interceptor.PhasePreDestroy:
		if err := tmpl.Add(interceptor.BandUninjection, "", uninjectionFactory()); err != nil {
			return nil, 0, err
		}
		if err := tmpl.Add(interceptor.BandDestruction, "", destructionFactory()); err != nil {
			return nil, 0, err
		}
	}

	accepted, err := b.collectCallbacks(typeName, phase, hierarchy)
	if err != nil {
		return nil, 0, err
	}
	for _, decl := range accepted {
		if err := tmpl.Add(interceptor.BandUserCallbacks, decl.DeclaringType, b.callbackFactory(decl)); err != nil {
			return nil, 0, err
		}
	}

	if err := tmpl.Add(interceptor.BandTerminal, "", lifecycleTerminalFactory()); err != nil {
		return nil, 0, err
	}

	if tmpl.Len() > cfg.MaxChainDepth {
		return nil, 0, pkgerrors.NewBuildError(typeName,
			fmt.Sprintf("chain for phase %q has %d entries, exceeding limit %d", phase, tmpl.Len(), cfg.MaxChainDepth))
	}
	return tmpl, len(accepted), nil
}

func (b *Builder) buildOperationTemplate(typeName string, phase interceptor.Phase, op valueobjects.Signature, hierarchy []string, cfg *config.DomainConfig) (*interceptor.Template, int, error) {
	tmpl := interceptor.NewOperationTemplate(phase, op)

	if err := tmpl.Add(interceptor.BandInitial, "", b.initialFactory(op)); err != nil {
		return nil, 0, err
	}

	accepted, err := b.collectCallbacks(typeName, phase, hierarchy)
	if err != nil {
		return nil, 0, err
	}
	for _, decl := range accepted {
		if err := tmpl.Add(interceptor.BandUserCallbacks, decl.DeclaringType, b.callbackFactory(decl)); err != nil {
			return nil, 0, err
		}
	}

	if err := tmpl.Add(interceptor.BandTerminal, "", b.dispatchTerminalFactory(op)); err != nil {
		return nil, 0, err
	}

	if tmpl.Len() > cfg.MaxChainDepth {
		return nil, 0, pkgerrors.NewBuildError(typeName,
			fmt.Sprintf("chain for operation %q has %d entries, exceeding limit %d", op.String(), tmpl.Len(), cfg.MaxChainDepth))
	}
	return tmpl, len(accepted), nil
}

// collectCallbacks walks the hierarchy most-derived first, suppressing any
// declaration whose signature was already accepted from a more derived
// type. The accepted list is then reversed so base type callbacks run
// before derived ones while still firing each signature exactly once,
// attributed to its most derived declaration.
func (b *Builder) collectCallbacks(typeName string, phase interceptor.Phase, hierarchy []string) ([]ports.Declaration, error) {
	seen := make(map[string]bool)
	var accepted []ports.Declaration

	for _, visited := range hierarchy {
		for _, decl := range b.descriptors.DeclarationsFor(visited, phase) {
			if decl.Signature.IsZero() {
				return nil, pkgerrors.NewBuildError(typeName,
					fmt.Sprintf("type %q declares an unresolvable %s callback", visited, phase))
			}
			key := decl.Signature.String()
			if seen[key] {
				// overridden by a more derived type already visited
				continue
			}
			seen[key] = true
			if decl.DeclaringType == "" {
				decl.DeclaringType = visited
			}
			accepted = append(accepted, decl)
		}
	}

	for i, j := 0, len(accepted)-1; i < j; i, j = i+1, j-1 {
		accepted[i], accepted[j] = accepted[j], accepted[i]
	}
	return accepted, nil
}

// callbackFactory produces the interceptor for one accepted user
// declaration. The callback is dispatched against the target, then the
// chain proceeds; a callback failure stops the chain and propagates.
func (b *Builder) callbackFactory(decl ports.Declaration) interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			start := time.Now()
			_, err := b.dispatcher.Dispatch(ctx, ref.Target(), decl.Signature, inv.Args)
			b.metrics.ObserveCallback(ref.ComponentTypeName(), decl.Signature.Name(), time.Since(start), err)
			if err != nil {
				return nil, err
			}
			return inv.Proceed(ctx)
		})
	})
}

// contextPropagationFactory populates the invocation context and opens a
// span covering the rest of the chain
func (b *Builder) contextPropagationFactory(phase interceptor.Phase) interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			ctx = common.WithComponentType(ctx, ref.ComponentTypeName())
			ctx = common.WithInstanceID(ctx, ref.InstanceID().String())
			ctx = common.WithStartTime(ctx, time.Now())

			ctx, span := b.tracer.StartSpan(ctx, "lifecycle."+string(phase),
				attribute.String("component.type", ref.ComponentTypeName()),
				attribute.String("component.instance", ref.InstanceID().String()))
			defer span.End()

			result, err := inv.Proceed(ctx)
			if err != nil {
				span.RecordError(err)
			}
			return result, err
		})
	})
}

// securityContextFactory ensures a principal is present, defaulting to the
// system principal for container-initiated transitions
func securityContextFactory() interceptor.Factory {
	return interceptor.ImmediateFactory(interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
		if _, ok := common.GetPrincipal(ctx); !ok {
			ctx = common.WithPrincipal(ctx, common.SystemPrincipal)
		}
		return inv.Proceed(ctx)
	}))
}

func injectionFactory() interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			if aware, ok := ref.Target().(ContextAware); ok {
				aware.BindInstance(ref)
			}
			return inv.Proceed(ctx)
		})
	})
}

func uninjectionFactory() interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			if aware, ok := ref.Target().(ContextAware); ok {
				aware.UnbindInstance()
			}
			return inv.Proceed(ctx)
		})
	})
}

// destructionFactory closes targets that own resources before the user
// pre-destroy callbacks run
func destructionFactory() interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			if closer, ok := ref.Target().(io.Closer); ok {
				if err := closer.Close(); err != nil {
					return nil, err
				}
			}
			return inv.Proceed(ctx)
		})
	})
}

// lifecycleTerminalFactory ends a lifecycle chain. The user callbacks have
// already fired; there is no further target call to make.
func lifecycleTerminalFactory() interceptor.Factory {
	return interceptor.ImmediateFactory(interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
		return nil, nil
	}))
}

// initialFactory performs per-invocation context setup for dispatch chains
func (b *Builder) initialFactory(op valueobjects.Signature) interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			ctx = common.WithComponentType(ctx, ref.ComponentTypeName())
			ctx = common.WithInstanceID(ctx, ref.InstanceID().String())
			ctx = common.WithOperation(ctx, op.String())
			ctx = common.WithStartTime(ctx, time.Now())
			if _, ok := common.GetPrincipal(ctx); !ok {
				ctx = common.WithPrincipal(ctx, common.SystemPrincipal)
			}

			ctx, span := b.tracer.StartSpan(ctx, "dispatch."+op.Name(),
				attribute.String("component.type", ref.ComponentTypeName()),
				attribute.String("operation", op.String()))
			defer span.End()

			b.metrics.Invocations.WithLabelValues(ref.ComponentTypeName(), op.Name()).Inc()
			result, err := inv.Proceed(ctx)
			if err != nil {
				span.RecordError(err)
				b.metrics.InvocationErrors.WithLabelValues(ref.ComponentTypeName(), op.Name()).Inc()
			}
			return result, err
		})
	})
}

// dispatchTerminalFactory performs the actual target call for an operation
func (b *Builder) dispatchTerminalFactory(op valueobjects.Signature) interceptor.Factory {
	return interceptor.FactoryFunc(func(ref interceptor.InstanceRef) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			result, err := b.dispatcher.Dispatch(ctx, ref.Target(), op, inv.Args)
			if err != nil {
				return nil, pkgerrors.NewDispatchError(op.String(), err)
			}
			return result, nil
		})
	})
}
