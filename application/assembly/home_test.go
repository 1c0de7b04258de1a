package assembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
)

var createOp = valueobjects.MustSignature("create", "CartView", "string")

func TestResolveCreateViewSingleUnqualifiedLocalWins(t *testing.T) {
	views := []View{
		{ClassName: "CartView", Kind: ViewKindLocal},
		{ClassName: "RemoteCartView", Kind: ViewKindRemote, Qualified: true},
	}

	view, err := ResolveCreateView("Cart", createOp, views, ViewKindRemote)
	require.NoError(t, err)
	assert.Equal(t, "CartView", view.ClassName)
	assert.Equal(t, ViewKindLocal, view.Kind)
}

func TestResolveCreateViewFallsBackToReturnType(t *testing.T) {
	views := []View{
		{ClassName: "CartView", Kind: ViewKindLocal, Qualified: true},
		{ClassName: "AdminCartView", Kind: ViewKindLocal, Qualified: true},
	}

	view, err := ResolveCreateView("Cart", createOp, views, ViewKindLocal)
	require.NoError(t, err)
	assert.Equal(t, "CartView", view.ClassName)
}

func TestResolveCreateViewFallsBackToWantedKind(t *testing.T) {
	views := []View{
		{ClassName: "SomeView", Kind: ViewKindLocal, Qualified: true},
		{ClassName: "OtherView", Kind: ViewKindLocal, Qualified: true},
		{ClassName: "WireView", Kind: ViewKindRemote, Qualified: true},
	}

	view, err := ResolveCreateView("Cart", createOp, views, ViewKindRemote)
	require.NoError(t, err)
	assert.Equal(t, "WireView", view.ClassName)
}

func TestResolveCreateViewAmbiguityNamesOperation(t *testing.T) {
	views := []View{
		{ClassName: "ViewA", Kind: ViewKindRemote, Qualified: true},
		{ClassName: "ViewB", Kind: ViewKindRemote, Qualified: true},
	}

	_, err := ResolveCreateView("Cart", createOp, views, ViewKindRemote)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBuild(err))
	// the failure names the operation, not just the type
	assert.Contains(t, err.Error(), createOp.String())
}

func TestResolveCreateViewNoCandidates(t *testing.T) {
	_, err := ResolveCreateView("Cart", createOp, nil, ViewKindLocal)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBuild(err))
}

func TestResolveCreateViewTwoUnqualifiedLocalsFallThrough(t *testing.T) {
	// two unqualified locals cancel the shortcut; the return type still
	// resolves it
	views := []View{
		{ClassName: "CartView", Kind: ViewKindLocal},
		{ClassName: "LegacyCartView", Kind: ViewKindLocal},
	}

	view, err := ResolveCreateView("Cart", createOp, views, ViewKindLocal)
	require.NoError(t, err)
	assert.Equal(t, "CartView", view.ClassName)
}
