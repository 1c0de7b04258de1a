package entities

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chassis/domain/core/valueobjects"
	"chassis/domain/interceptor"
	pkgerrors "chassis/pkg/errors"
)

// recordingCallbacks logs persistence callback invocations in order
type recordingCallbacks struct {
	mu    sync.Mutex
	calls []string

	failActivate  error
	failLoad      error
	failStore     error
	failPassivate error
}

func (r *recordingCallbacks) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingCallbacks) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recordingCallbacks) Activate(ctx context.Context, inst *ComponentInstance) error {
	r.record("activate")
	return r.failActivate
}

func (r *recordingCallbacks) Load(ctx context.Context, inst *ComponentInstance) error {
	r.record("load")
	return r.failLoad
}

func (r *recordingCallbacks) Store(ctx context.Context, inst *ComponentInstance) error {
	r.record("store")
	return r.failStore
}

func (r *recordingCallbacks) Passivate(ctx context.Context, inst *ComponentInstance) error {
	r.record("passivate")
	return r.failPassivate
}

type countingEvictor struct {
	evictions atomic.Int32
}

func (e *countingEvictor) Evict(ctx context.Context, inst *ComponentInstance) error {
	e.evictions.Add(1)
	return nil
}

// emptyTemplates builds a frozen template set with just the mandatory
// terminal contribution per phase
func emptyTemplates(t *testing.T, phases ...interceptor.Phase) *interceptor.TemplateSet {
	t.Helper()
	set := interceptor.NewTemplateSet()
	for _, phase := range phases {
		tmpl := interceptor.NewTemplate(phase)
		require.NoError(t, tmpl.Add(interceptor.BandTerminal, "", interceptor.ImmediateFactory(
			interceptor.Func(func(ctx context.Context, inv *interceptor.Invocation) (interface{}, error) {
				return nil, nil
			}))))
		set.Lifecycle[phase] = tmpl
	}
	require.NoError(t, set.Freeze())
	return set
}

func mustIdentity(t *testing.T, key string) valueobjects.IdentityKey {
	t.Helper()
	k, err := valueobjects.NewIdentityKey(key)
	require.NoError(t, err)
	return k
}

func newTestInstance(t *testing.T, callbacks EntityCallbacks, evictor EvictionNotifier) *ComponentInstance {
	t.Helper()
	inst, err := NewComponentInstance("Order", &struct{}{}, callbacks, evictor, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, inst.Construct(context.Background(), emptyTemplates(t,
		interceptor.PhasePostConstruct,
		interceptor.PhasePreDestroy,
		interceptor.PhasePrePassivate,
		interceptor.PhasePostActivate,
	)))
	return inst
}

func TestLifecycleCallbackOrder(t *testing.T) {
	ctx := context.Background()
	cb := &recordingCallbacks{}
	inst := newTestInstance(t, cb, nil)

	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "order-1")))
	require.NoError(t, inst.Store(ctx))
	require.NoError(t, inst.Passivate(ctx))
	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "order-2")))

	assert.Equal(t, []string{"activate", "load", "store", "passivate", "activate", "load"}, cb.log())
}

func TestConstructRequiresStateNew(t *testing.T) {
	inst := newTestInstance(t, nil, nil)
	err := inst.Construct(context.Background(), emptyTemplates(t, interceptor.PhasePostConstruct))
	require.Error(t, err)
}

func TestAssociateSetsIdentityAndPassivateClearsIt(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &recordingCallbacks{}, nil)

	key := mustIdentity(t, "order-9")
	require.NoError(t, inst.Associate(ctx, key))
	assert.Equal(t, StateAssociated, inst.State())
	assert.Equal(t, key, inst.Identity())

	require.NoError(t, inst.Passivate(ctx))
	assert.Equal(t, StatePassivated, inst.State())
	assert.True(t, inst.Identity().IsZero())
}

func TestIdentityReadableFromPersistenceCallback(t *testing.T) {
	ctx := context.Background()
	var seen []string
	cb := &identityPeekCallbacks{seen: &seen}
	inst := newTestInstance(t, cb, nil)

	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "order-3")))
	require.NoError(t, inst.Passivate(ctx))

	// the passivate callback still sees the identity; it is cleared after
	assert.Equal(t, []string{"order-3", "order-3"}, seen)
}

type identityPeekCallbacks struct {
	seen *[]string
}

func (c *identityPeekCallbacks) Activate(ctx context.Context, inst *ComponentInstance) error {
	return nil
}

func (c *identityPeekCallbacks) Load(ctx context.Context, inst *ComponentInstance) error {
	*c.seen = append(*c.seen, inst.Identity().String())
	return nil
}

func (c *identityPeekCallbacks) Store(ctx context.Context, inst *ComponentInstance) error {
	return nil
}

func (c *identityPeekCallbacks) Passivate(ctx context.Context, inst *ComponentInstance) error {
	*c.seen = append(*c.seen, inst.Identity().String())
	return nil
}

func TestStoreOutsideAssociationFails(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &recordingCallbacks{}, nil)

	err := inst.Store(ctx)
	require.Error(t, err)

	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "k")))
	require.NoError(t, inst.Passivate(ctx))
	err = inst.Store(ctx)
	require.Error(t, err)
}

func TestRemovedInstanceSkipsPersistenceCallbacks(t *testing.T) {
	ctx := context.Background()
	cb := &recordingCallbacks{}
	inst := newTestInstance(t, cb, nil)

	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "gone")))
	inst.SetRemoved(true)

	require.NoError(t, inst.Store(ctx))
	require.NoError(t, inst.Passivate(ctx))

	assert.Equal(t, []string{"activate", "load"}, cb.log())
}

func TestAssociateFailureIsLifecycleError(t *testing.T) {
	ctx := context.Background()
	cb := &recordingCallbacks{failLoad: errors.New("table gone")}
	inst := newTestInstance(t, cb, nil)

	err := inst.Associate(ctx, mustIdentity(t, "x"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsLifecycle(err))
}

func TestDiscardNotifiesEvictionExactlyOnce(t *testing.T) {
	ctx := context.Background()
	evictor := &countingEvictor{}
	inst := newTestInstance(t, &recordingCallbacks{}, evictor)
	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "v")))

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Discard(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), evictor.evictions.Load())
	assert.Equal(t, StateDiscarded, inst.State())
	assert.True(t, inst.Discarded())
}

func TestDiscardedInstanceRejectsEverything(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &recordingCallbacks{}, nil)
	inst.Discard(ctx)

	assert.Error(t, inst.Associate(ctx, mustIdentity(t, "z")))
	assert.Error(t, inst.Store(ctx))
	assert.Error(t, inst.Passivate(ctx))
	_, err := inst.Invoke(ctx, valueobjects.MustSignature("op", ""), nil)
	assert.Error(t, err)
}

func TestDestroyDoesNotNotifyEviction(t *testing.T) {
	ctx := context.Background()
	evictor := &countingEvictor{}
	inst := newTestInstance(t, &recordingCallbacks{}, evictor)

	require.NoError(t, inst.Destroy(ctx))
	assert.Equal(t, int32(0), evictor.evictions.Load())
	assert.Equal(t, StateDiscarded, inst.State())

	// destroy after destroy is a no-op
	require.NoError(t, inst.Destroy(ctx))
}

func TestInstancesLockIndependently(t *testing.T) {
	ctx := context.Background()

	blocker := make(chan struct{})
	slow := &blockingCallbacks{release: blocker}
	a, err := NewComponentInstance("Order", &struct{}{}, slow, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Construct(ctx, emptyTemplates(t, interceptor.PhasePostConstruct)))

	b := newTestInstance(t, &recordingCallbacks{}, nil)

	done := make(chan struct{})
	go func() {
		_ = a.Associate(ctx, mustIdentity(t, "slow"))
		close(done)
	}()

	// instance b proceeds while a's association is parked in its callback
	require.NoError(t, b.Associate(ctx, mustIdentity(t, "fast")))
	require.NoError(t, b.Store(ctx))

	close(blocker)
	<-done
}

type blockingCallbacks struct {
	release chan struct{}
}

func (c *blockingCallbacks) Activate(ctx context.Context, inst *ComponentInstance) error {
	<-c.release
	return nil
}

func (c *blockingCallbacks) Load(ctx context.Context, inst *ComponentInstance) error {
	return nil
}

func (c *blockingCallbacks) Store(ctx context.Context, inst *ComponentInstance) error {
	return nil
}

func (c *blockingCallbacks) Passivate(ctx context.Context, inst *ComponentInstance) error {
	return nil
}

func TestUncommittedEventsAccumulateAndClear(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &recordingCallbacks{}, nil)
	require.NoError(t, inst.Associate(ctx, mustIdentity(t, "e")))

	pending := inst.GetUncommittedEvents()
	require.Len(t, pending, 2)
	assert.Equal(t, "instance.constructed", pending[0].GetEventType())
	assert.Equal(t, "instance.associated", pending[1].GetEventType())

	inst.MarkEventsAsCommitted()
	assert.Empty(t, inst.GetUncommittedEvents())
}

func TestNewComponentInstanceValidation(t *testing.T) {
	_, err := NewComponentInstance("", &struct{}{}, nil, nil, zap.NewNop())
	require.Error(t, err)

	_, err = NewComponentInstance("Order", nil, nil, nil, zap.NewNop())
	require.Error(t, err)
}
