package assembly

import (
	"fmt"

	"chassis/domain/core/valueobjects"
	pkgerrors "chassis/pkg/errors"
)

// ViewKind distinguishes local from remote client views
type ViewKind string

const (
	ViewKindLocal  ViewKind = "local"
	ViewKindRemote ViewKind = "remote"
)

// View is one candidate client view a factory-style creation operation may
// resolve to
type View struct {
	ClassName string
	Kind      ViewKind
	// Qualified marks views declared explicitly rather than defaulted
	Qualified bool
}

// ResolveCreateView maps a factory-style creation operation to exactly one
// of the component's candidate views. Resolution prefers a single
// unqualified local view, then an exact return-type match, then a single
// surviving candidate of the wanted kind; anything else is an ambiguity
// and fails the build for this type.
func ResolveCreateView(typeName string, op valueobjects.Signature, views []View, want ViewKind) (View, error) {
	if len(views) == 0 {
		return View{}, pkgerrors.NewBuildError(typeName,
			fmt.Sprintf("creation operation %q has no candidate views", op.String()))
	}

	var unqualifiedLocal []View
	for _, v := range views {
		if v.Kind == ViewKindLocal && !v.Qualified {
			unqualifiedLocal = append(unqualifiedLocal, v)
		}
	}
	if len(unqualifiedLocal) == 1 {
		return unqualifiedLocal[0], nil
	}

	var byReturnType []View
	for _, v := range views {
		if v.ClassName == op.ReturnType() {
			byReturnType = append(byReturnType, v)
		}
	}
	if len(byReturnType) == 1 {
		return byReturnType[0], nil
	}

	var byKind []View
	for _, v := range views {
		if v.Kind == want {
			byKind = append(byKind, v)
		}
	}
	if len(byKind) == 1 {
		return byKind[0], nil
	}

	return View{}, pkgerrors.NewBuildError(typeName,
		fmt.Sprintf("could not resolve a view for creation operation %q: %d candidates remain", op.String(), len(byKind))).
		WithDetails(map[string]interface{}{
			"operation":  op.String(),
			"returnType": op.ReturnType(),
			"candidates": len(views),
		})
}
