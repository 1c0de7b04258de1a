package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chassis/application/assembly"
	"chassis/application/services"
	domainconfig "chassis/domain/config"
	"chassis/domain/core/entities"
	"chassis/domain/core/valueobjects"
	"chassis/domain/interceptor"
	"chassis/infrastructure/dispatch"
	"chassis/infrastructure/messaging/eventbridge"
	"chassis/infrastructure/persistence/memory"
	"chassis/infrastructure/registry"
	"chassis/pkg/extensions"
	"chassis/pkg/observability"
)

// account is the target object used by the end-to-end lifecycle tests
type account struct {
	mu      sync.Mutex
	balance int
	inits   int
}

func (a *account) add(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += n
	return a.balance
}

func (a *account) current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// ledgerStore is an in-memory persistence collaborator recording every
// callback it receives
type ledgerStore struct {
	mu    sync.Mutex
	saved map[string]int
	calls []string
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{saved: map[string]int{}}
}

func (s *ledgerStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *ledgerStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *ledgerStore) Activate(ctx context.Context, inst *entities.ComponentInstance) error {
	s.record("activate")
	return nil
}

func (s *ledgerStore) Load(ctx context.Context, inst *entities.ComponentInstance) error {
	s.record("load")
	s.mu.Lock()
	saved, ok := s.saved[inst.Identity().String()]
	s.mu.Unlock()
	if ok {
		acct := inst.Target().(*account)
		acct.mu.Lock()
		acct.balance = saved
		acct.mu.Unlock()
	}
	return nil
}

func (s *ledgerStore) Store(ctx context.Context, inst *entities.ComponentInstance) error {
	s.record("store")
	s.flush(inst)
	return nil
}

func (s *ledgerStore) Passivate(ctx context.Context, inst *entities.ComponentInstance) error {
	s.record("passivate")
	s.flush(inst)
	return nil
}

func (s *ledgerStore) flush(inst *entities.ComponentInstance) {
	balance := inst.Target().(*account).current()
	s.mu.Lock()
	s.saved[inst.Identity().String()] = balance
	s.mu.Unlock()
}

var (
	sigDeposit = valueobjects.MustSignature("deposit", "int", "int")
	sigBalance = valueobjects.MustSignature("balance", "int")
	sigInit    = valueobjects.MustSignature("initAccount", "")
)

func newTestHost(t *testing.T, store *ledgerStore) *services.RuntimeHost {
	t.Helper()
	observability.ResetForTesting()

	logger := zap.NewNop()
	cfg := domainconfig.NewStore(domainconfig.LoadDomainConfig("development"))
	metrics := observability.NewCollector("chassis")
	tracer := observability.NewNopTracer()

	reg := registry.New()
	reg.RegisterHierarchy("Account")
	reg.DeclareCallback("Account", interceptor.PhasePostConstruct, sigInit)

	dispatcher := dispatch.NewFuncDispatcher()
	dispatcher.Register(sigInit, func(ctx context.Context, target interface{}, args []interface{}) (interface{}, error) {
		acct := target.(*account)
		acct.mu.Lock()
		acct.inits++
		acct.mu.Unlock()
		return nil, nil
	})
	dispatcher.Register(sigDeposit, func(ctx context.Context, target interface{}, args []interface{}) (interface{}, error) {
		return target.(*account).add(args[0].(int)), nil
	})
	dispatcher.Register(sigBalance, func(ctx context.Context, target interface{}, args []interface{}) (interface{}, error) {
		return target.(*account).current(), nil
	})

	builder := assembly.NewBuilder(reg, reg, dispatcher, cfg, tracer, metrics, logger)
	pools := memory.NewPoolFactory(cfg, metrics, logger)
	caches := memory.NewCacheFactory(cfg, metrics, logger)
	host := services.NewRuntimeHost(builder, pools, caches, eventbridge.NewNopPublisher(), cfg, metrics, logger)

	err := host.RegisterType(context.Background(), services.Registration{
		Build: assembly.BuildInput{
			TypeName:           "Account",
			Operations:         []valueobjects.Signature{sigDeposit, sigBalance},
			PassivationCapable: true,
		},
		NewTarget: func() interface{} { return &account{} },
		Callbacks: store,
	})
	require.NoError(t, err)
	return host
}

func mustKey(t *testing.T, key string) valueobjects.IdentityKey {
	t.Helper()
	k, err := valueobjects.NewIdentityKey(key)
	require.NoError(t, err)
	return k
}

func TestInvokeThroughFullLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)
	alice := mustKey(t, "alice")

	result, err := host.Invoke(ctx, "Account", alice, sigDeposit, []interface{}{25})
	require.NoError(t, err)
	assert.Equal(t, 25, result)

	result, err = host.Invoke(ctx, "Account", alice, sigDeposit, []interface{}{10})
	require.NoError(t, err)
	assert.Equal(t, 35, result)

	// fresh instance went NEW -> POOLED -> ASSOCIATED exactly once
	assert.Equal(t, []string{"activate", "load"}, store.callLog())

	inst, err := host.Acquire(ctx, "Account", alice)
	require.NoError(t, err)
	assert.Equal(t, entities.StateAssociated, inst.State())
	assert.Equal(t, 1, inst.Target().(*account).inits)
}

func TestStoreAndReactivateFromPersistedState(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)
	bob := mustKey(t, "bob")

	_, err := host.Invoke(ctx, "Account", bob, sigDeposit, []interface{}{40})
	require.NoError(t, err)
	require.NoError(t, host.Store(ctx, "Account", bob))
	assert.Equal(t, 40, store.saved["bob"])

	// release detaches the identity and flushes via the passivate callback
	inst, err := host.Acquire(ctx, "Account", bob)
	require.NoError(t, err)
	require.NoError(t, host.Release(ctx, "Account", inst))
	assert.Equal(t, entities.StatePassivated, inst.State())

	// the next acquire reloads the saved balance, possibly onto a
	// different pooled instance
	result, err := host.Invoke(ctx, "Account", bob, sigBalance, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, result)
}

func TestDistinctIdentitiesGetDistinctInstances(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)

	a, err := host.Acquire(ctx, "Account", mustKey(t, "a"))
	require.NoError(t, err)
	b, err := host.Acquire(ctx, "Account", mustKey(t, "b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.InstanceID(), b.InstanceID())

	again, err := host.Acquire(ctx, "Account", mustKey(t, "a"))
	require.NoError(t, err)
	assert.Equal(t, a.InstanceID(), again.InstanceID())
}

func TestRemoveSuppressesPersistenceCallbacks(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)
	carol := mustKey(t, "carol")

	_, err := host.Invoke(ctx, "Account", carol, sigDeposit, []interface{}{5})
	require.NoError(t, err)

	require.NoError(t, host.Remove(ctx, "Account", carol))

	// no store or passivate fired after removal
	assert.Equal(t, []string{"activate", "load"}, store.callLog())
	_, saved := store.saved["carol"]
	assert.False(t, saved)

	// the identity is free again and binds a fresh instance
	result, err := host.Invoke(ctx, "Account", carol, sigBalance, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result)
}

func TestUnknownTypeAndOperation(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)

	_, err := host.Invoke(ctx, "Ghost", mustKey(t, "x"), sigBalance, nil)
	require.Error(t, err)

	unknown := valueobjects.MustSignature("transfer", "int", "string", "int")
	_, err = host.Invoke(ctx, "Account", mustKey(t, "x"), unknown, nil)
	require.Error(t, err)
}

func TestConcurrentInvokesOnOneIdentity(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)
	key := mustKey(t, "shared")

	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := host.Invoke(ctx, "Account", key, sigDeposit, []interface{}{1})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	result, err := host.Invoke(ctx, "Account", key, sigBalance, nil)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, result)

	// still exactly one association for the identity
	assert.Equal(t, []string{"activate", "load"}, store.callLog())
}

func TestConstructionAndDiscardHooksFire(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore()
	host := newTestHost(t, store)

	constructed := make(chan extensions.HookData, 4)
	discarded := make(chan extensions.HookData, 4)
	host.Hooks().Register(extensions.HookInstanceConstructed, func(_ context.Context, data extensions.HookData) error {
		constructed <- data
		return nil
	})
	host.Hooks().Register(extensions.HookInstanceDiscarded, func(_ context.Context, data extensions.HookData) error {
		discarded <- data
		return nil
	})

	carol := mustKey(t, "carol")
	_, err := host.Invoke(ctx, "Account", carol, sigDeposit, []interface{}{5})
	require.NoError(t, err)

	select {
	case data := <-constructed:
		assert.Equal(t, "Account", data.ComponentType)
	case <-time.After(2 * time.Second):
		t.Fatal("instance_constructed hook never fired")
	}

	require.NoError(t, host.Remove(ctx, "Account", carol))

	select {
	case data := <-discarded:
		assert.Equal(t, "Account", data.ComponentType)
		assert.Equal(t, "carol", data.IdentityKey)
	case <-time.After(2 * time.Second):
		t.Fatal("instance_discarded hook never fired")
	}
}
