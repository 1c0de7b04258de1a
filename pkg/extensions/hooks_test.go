package extensions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsHooksInRegistrationOrder(t *testing.T) {
	m := NewHookManager()
	var order []string

	m.Register(HookBeforeInvoke, func(ctx context.Context, data HookData) error {
		order = append(order, "first")
		return nil
	})
	m.Register(HookBeforeInvoke, func(ctx context.Context, data HookData) error {
		order = append(order, "second")
		return nil
	})

	err := m.Execute(context.Background(), HookBeforeInvoke, HookData{ComponentType: "Order"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestExecuteStopsOnFirstError(t *testing.T) {
	m := NewHookManager()
	boom := errors.New("denied")
	ran := false

	m.Register(HookBeforeTypeRegister, func(ctx context.Context, data HookData) error {
		return boom
	})
	m.Register(HookBeforeTypeRegister, func(ctx context.Context, data HookData) error {
		ran = true
		return nil
	})

	err := m.Execute(context.Background(), HookBeforeTypeRegister, HookData{})
	require.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestExecuteWithNoHooksIsNoop(t *testing.T) {
	m := NewHookManager()
	assert.NoError(t, m.Execute(context.Background(), HookAfterInvoke, HookData{}))
}

func TestExecuteAsyncRunsAllHooks(t *testing.T) {
	m := NewHookManager()
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		m.Register(HookInstanceAcquired, func(ctx context.Context, data HookData) error {
			wg.Done()
			return nil
		})
	}

	m.ExecuteAsync(context.Background(), HookInstanceAcquired, HookData{})
	wg.Wait()
}

func TestClearRemovesHooksForPoint(t *testing.T) {
	m := NewHookManager()
	ran := false
	m.Register(HookInstanceRemoved, func(ctx context.Context, data HookData) error {
		ran = true
		return nil
	})

	m.Clear(HookInstanceRemoved)
	require.NoError(t, m.Execute(context.Background(), HookInstanceRemoved, HookData{}))
	assert.False(t, ran)
}

type testPlugin struct {
	name        string
	initialized bool
	shutdown    bool
	registerErr error
}

func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return "1.0.0" }

func (p *testPlugin) Initialize(ctx context.Context) error {
	p.initialized = true
	return nil
}

func (p *testPlugin) RegisterHooks(m *HookManager) error {
	if p.registerErr != nil {
		return p.registerErr
	}
	m.Register(HookAfterTypeRegister, func(ctx context.Context, data HookData) error {
		return nil
	})
	return nil
}

func (p *testPlugin) Shutdown(ctx context.Context) error {
	p.shutdown = true
	return nil
}

func TestPluginManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	pm := NewPluginManager(NewHookManager())
	plugin := &testPlugin{name: "audit"}

	require.NoError(t, pm.Register(ctx, plugin))
	assert.True(t, plugin.initialized)

	got, ok := pm.GetPlugin("audit")
	require.True(t, ok)
	assert.Equal(t, plugin, got)
	assert.Equal(t, []string{"audit"}, pm.ListPlugins())

	// duplicate registration fails
	assert.Error(t, pm.Register(ctx, &testPlugin{name: "audit"}))

	require.NoError(t, pm.Unregister(ctx, "audit"))
	assert.True(t, plugin.shutdown)
	assert.Error(t, pm.Unregister(ctx, "audit"))
}

func TestPluginRegisterHooksFailure(t *testing.T) {
	pm := NewPluginManager(NewHookManager())
	plugin := &testPlugin{name: "broken", registerErr: errors.New("bad hook")}

	err := pm.Register(context.Background(), plugin)
	require.Error(t, err)
	_, ok := pm.GetPlugin("broken")
	assert.False(t, ok)
}
