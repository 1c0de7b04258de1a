package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chassis/application/services"
	"chassis/domain/core/valueobjects"
	"chassis/pkg/common"
	pkgerrors "chassis/pkg/errors"
)

// RuntimeHandler serves introspection of deployed component types and the
// invoke, release and remove operations on their identity-bound instances.
// Type deployment itself stays in code: a registration carries a target
// factory, which cannot cross the wire.
type RuntimeHandler struct {
	host   *services.RuntimeHost
	errors *pkgerrors.ErrorHandler
	logger *zap.Logger
}

// NewRuntimeHandler creates a runtime handler
func NewRuntimeHandler(host *services.RuntimeHost, errors *pkgerrors.ErrorHandler, logger *zap.Logger) *RuntimeHandler {
	return &RuntimeHandler{host: host, errors: errors, logger: logger}
}

// typeSummary is the wire shape for one deployed type
type typeSummary struct {
	Name                 string              `json:"name"`
	Operations           []string            `json:"operations"`
	PassivationCapable   bool                `json:"passivation_capable"`
	TimerServiceRequired bool                `json:"timer_service_required"`
	Chains               map[string][]string `json:"chains,omitempty"`
}

// ListTypes returns the registered component type names, paginated
func (h *RuntimeHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	params := common.ExtractPaginationParams(r)
	names := h.host.RegisteredTypes()

	page, pagination := common.Paginate(names, params)
	common.RespondWithMeta(w, http.StatusOK, map[string]interface{}{
		"types": page,
	}, &common.MetaInfo{
		RequestID:  common.ExtractRequestID(r),
		Pagination: pagination,
	})
}

// GetType returns one deployed type with its chain layout
func (h *RuntimeHandler) GetType(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "typeName")

	componentType, err := h.host.ComponentType(typeName)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	summary := typeSummary{
		Name:                 componentType.Name(),
		PassivationCapable:   componentType.PassivationCapable(),
		TimerServiceRequired: componentType.TimerServiceRequired(),
		Chains:               make(map[string][]string),
	}
	for _, op := range componentType.Operations() {
		summary.Operations = append(summary.Operations, op.String())
	}
	for phase, tmpl := range componentType.Templates().Lifecycle {
		bands := make([]string, 0, tmpl.Len())
		for _, band := range tmpl.Bands() {
			bands = append(bands, string(band))
		}
		summary.Chains[string(phase)] = bands
	}

	common.RespondJSON(w, http.StatusOK, summary)
}

// operationRef is the wire shape identifying one operation
type operationRef struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Returns string   `json:"returns"`
}

type invokeRequest struct {
	Key       string        `json:"key"`
	Operation operationRef  `json:"operation"`
	Args      []interface{} `json:"args"`
}

type identityRequest struct {
	Key string `json:"key"`
}

// Invoke dispatches one operation through the identity-bound instance's
// interceptor chain
func (h *RuntimeHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "typeName")

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	key, err := valueobjects.NewIdentityKey(req.Key)
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}
	sig, err := valueobjects.NewSignature(req.Operation.Name, req.Operation.Returns, req.Operation.Params...)
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}

	result, err := h.host.Invoke(r.Context(), typeName, key, sig, req.Args)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// Release flushes the identity-bound instance and passivates it back
// toward the pool
func (h *RuntimeHandler) Release(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "typeName")

	key, ok := h.decodeIdentity(w, r)
	if !ok {
		return
	}
	inst, err := h.host.Acquire(r.Context(), typeName, key)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := h.host.Release(r.Context(), typeName, inst); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// Remove marks the entity behind an identity as removed and permanently
// invalidates its instance
func (h *RuntimeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "typeName")

	key, ok := h.decodeIdentity(w, r)
	if !ok {
		return
	}
	if err := h.host.Remove(r.Context(), typeName, key); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *RuntimeHandler) decodeIdentity(w http.ResponseWriter, r *http.Request) (valueobjects.IdentityKey, bool) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("invalid request body"))
		return valueobjects.IdentityKey{}, false
	}
	key, err := valueobjects.NewIdentityKey(req.Key)
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return valueobjects.IdentityKey{}, false
	}
	return key, true
}
