package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentVersionDefaultsToOne(t *testing.T) {
	e := NewEvolution()
	assert.Equal(t, 1, e.CurrentVersion("Order"))
}

func TestUpgradeRunsChainInOrder(t *testing.T) {
	e := NewEvolution()
	require.NoError(t, e.Register("Order", 1, "split name", func(state map[string]interface{}) (map[string]interface{}, error) {
		state["first"] = "ada"
		delete(state, "name")
		return state, nil
	}))
	require.NoError(t, e.Register("Order", 2, "add currency", func(state map[string]interface{}) (map[string]interface{}, error) {
		state["currency"] = "USD"
		return state, nil
	}))

	assert.Equal(t, 3, e.CurrentVersion("Order"))

	state, version, err := e.Upgrade("Order", 1, map[string]interface{}{"name": "ada lovelace"})
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, "ada", state["first"])
	assert.Equal(t, "USD", state["currency"])
	assert.NotContains(t, state, "name")
}

func TestUpgradeCurrentVersionIsNoop(t *testing.T) {
	e := NewEvolution()
	require.NoError(t, e.Register("Order", 1, "x", func(state map[string]interface{}) (map[string]interface{}, error) {
		state["touched"] = true
		return state, nil
	}))

	state, version, err := e.Upgrade("Order", 2, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.NotContains(t, state, "touched")
}

func TestUpgradeTreatsZeroVersionAsOne(t *testing.T) {
	e := NewEvolution()
	require.NoError(t, e.Register("Order", 1, "x", func(state map[string]interface{}) (map[string]interface{}, error) {
		state["v2"] = true
		return state, nil
	}))

	state, version, err := e.Upgrade("Order", 0, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, true, state["v2"])
}

func TestUpgradeFailsOnGap(t *testing.T) {
	e := NewEvolution()
	require.NoError(t, e.Register("Order", 2, "later step only", func(state map[string]interface{}) (map[string]interface{}, error) {
		return state, nil
	}))

	_, _, err := e.Upgrade("Order", 1, map[string]interface{}{})
	require.Error(t, err)
}

func TestUpgradeStopsOnFailingStep(t *testing.T) {
	boom := errors.New("corrupt snapshot")
	e := NewEvolution()
	require.NoError(t, e.Register("Order", 1, "fails", func(state map[string]interface{}) (map[string]interface{}, error) {
		return nil, boom
	}))

	_, version, err := e.Upgrade("Order", 1, map[string]interface{}{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, version)
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	e := NewEvolution()
	up := func(state map[string]interface{}) (map[string]interface{}, error) { return state, nil }

	require.NoError(t, e.Register("Order", 1, "a", up))
	assert.Error(t, e.Register("Order", 1, "dup", up))
	assert.Error(t, e.Register("Order", 0, "bad version", up))
	assert.Error(t, e.Register("Order", 2, "nil", nil))
}

func TestTypesEvolveIndependently(t *testing.T) {
	e := NewEvolution()
	up := func(state map[string]interface{}) (map[string]interface{}, error) { return state, nil }

	require.NoError(t, e.Register("Order", 1, "a", up))
	assert.Equal(t, 2, e.CurrentVersion("Order"))
	assert.Equal(t, 1, e.CurrentVersion("Cart"))
}
