package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chassis/domain/config"
	"chassis/domain/core/entities"
	"chassis/domain/interceptor"
	"chassis/pkg/observability"
)

func frozenTemplates(t *testing.T) *interceptor.TemplateSet {
	t.Helper()
	set := interceptor.NewTemplateSet()
	tmpl := interceptor.NewTemplate(interceptor.PhasePostConstruct)
	require.NoError(t, tmpl.Add(interceptor.BandTerminal, "", interceptor.ImmediateFactory(
		interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
			return nil, nil
		}))))
	set.Lifecycle[interceptor.PhasePostConstruct] = tmpl
	require.NoError(t, set.Freeze())
	return set
}

func pooledConstruct(t *testing.T, typeName string) func(ctx context.Context) (*entities.ComponentInstance, error) {
	t.Helper()
	templates := frozenTemplates(t)
	return func(ctx context.Context) (*entities.ComponentInstance, error) {
		inst, err := entities.NewComponentInstance(typeName, &struct{}{}, nil, nil, zap.NewNop())
		if err != nil {
			return nil, err
		}
		if err := inst.Construct(ctx, templates); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func testPoolConfig() *config.DomainConfig {
	cfg := config.DefaultDomainConfig()
	cfg.MaxPoolSize = 2
	return cfg
}

func newPool(t *testing.T, cfg *config.DomainConfig) *InstancePool {
	t.Helper()
	observability.ResetForTesting()
	return NewInstancePool("Order", pooledConstruct(t, "Order"),
		cfg, observability.NewCollector("chassis"), zap.NewNop())
}

func TestPoolTakeConstructsOnEmpty(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, testPoolConfig())

	inst, err := pool.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.StatePooled, inst.State())
	assert.Equal(t, 0, pool.Size())
}

func TestPoolPutThenTakeReuses(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, testPoolConfig())

	inst, err := pool.Take(ctx)
	require.NoError(t, err)
	pool.Put(ctx, inst)
	assert.Equal(t, 1, pool.Size())

	again, err := pool.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, inst.InstanceID(), again.InstanceID())
}

func TestPoolPutRejectsDiscarded(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, testPoolConfig())

	inst, err := pool.Take(ctx)
	require.NoError(t, err)
	inst.Discard(ctx)
	pool.Put(ctx, inst)
	assert.Equal(t, 0, pool.Size())
}

func TestPoolOverflowDestroysInstance(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, testPoolConfig())

	var kept []*entities.ComponentInstance
	for i := 0; i < 3; i++ {
		inst, err := pool.Take(ctx)
		require.NoError(t, err)
		kept = append(kept, inst)
	}
	for _, inst := range kept {
		pool.Put(ctx, inst)
	}

	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, entities.StateDiscarded, kept[2].State())
}

func TestPoolConstructFailurePropagates(t *testing.T) {
	observability.ResetForTesting()
	boom := errors.New("no target")
	pool := NewInstancePool("Order", func(ctx context.Context) (*entities.ComponentInstance, error) {
		return nil, boom
	}, testPoolConfig(), observability.NewCollector("chassis"), zap.NewNop())

	_, err := pool.Take(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPoolDrainDestroysIdle(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, testPoolConfig())

	inst, err := pool.Take(ctx)
	require.NoError(t, err)
	pool.Put(ctx, inst)

	pool.Drain(ctx)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, entities.StateDiscarded, inst.State())
}

func TestPoolFactoryPicksUpReloadedLimits(t *testing.T) {
	ctx := context.Background()
	observability.ResetForTesting()
	store := config.NewStore(testPoolConfig())
	factory := NewPoolFactory(store, observability.NewCollector("chassis"), zap.NewNop())

	next := *store.Current()
	next.MaxPoolSize = 1
	store.Replace(&next)

	pool := factory.NewPool("Order", pooledConstruct(t, "Order"))

	first, err := pool.Take(ctx)
	require.NoError(t, err)
	second, err := pool.Take(ctx)
	require.NoError(t, err)

	pool.Put(ctx, first)
	pool.Put(ctx, second)

	// the new deployment got the reloaded cap of one idle instance
	assert.Equal(t, 1, pool.(*InstancePool).Size())
	assert.Equal(t, entities.StateDiscarded, second.State())
}
