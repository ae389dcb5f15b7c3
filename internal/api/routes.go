package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/controller"
	"github.com/ManyThreads/horme/internal/storage"
	"github.com/gorilla/mux"
)

// ServiceController is the part of the controller exposed to operators.
type ServiceController interface {
	Handles() []*controller.ServiceHandle
	RestartService(ctx context.Context, uuid service.UUID) error
	RemoveService(ctx context.Context, uuid service.UUID) error
	Reconcile(ctx context.Context, init bool) error
}

// DeviceStates serves the last reported device states.
type DeviceStates interface {
	State(uuid service.UUID) (messages.DeviceMessage, bool)
}

type HealthRoute struct{}

func NewHealthRoute() *HealthRoute {
	return &HealthRoute{}
}

func (h *HealthRoute) Pattern() string {
	return "/healthz"
}

func (h *HealthRoute) Method() string {
	return http.MethodGet
}

func (h *HealthRoute) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// ServiceStatus combines the persisted entry of a service with its live state.
type ServiceStatus struct {
	Entry  *service.ServiceEntry     `json:"entry"`
	Handle *controller.ServiceHandle `json:"handle"`
	State  *messages.DeviceMessage   `json:"state"`
}

// ListServicesRoute lists every persisted service together with live handles that have no
// persisted entry anymore.
type ListServicesRoute struct {
	storage    storage.PersistentStorage
	controller ServiceController
	states     DeviceStates
}

func NewListServicesRoute(s storage.PersistentStorage, ctrl ServiceController, states DeviceStates) *ListServicesRoute {
	return &ListServicesRoute{storage: s, controller: ctrl, states: states}
}

func (h *ListServicesRoute) Pattern() string {
	return "/services"
}

func (h *ListServicesRoute) Method() string {
	return http.MethodGet
}

func (h *ListServicesRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entries, err := h.storage.QueryServices(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	snapshot := h.controller.Handles()
	handles := make(map[service.UUID]*controller.ServiceHandle, len(snapshot))
	for _, handle := range snapshot {
		handles[handle.Info.UUID] = handle
	}

	res := make([]*ServiceStatus, 0, len(entries))
	for _, entry := range entries {
		status := &ServiceStatus{Entry: entry, Handle: handles[entry.UUID]}
		if state, ok := h.states.State(entry.UUID); ok {
			status.State = &state
		}
		delete(handles, entry.UUID)
		res = append(res, status)
	}
	for _, handle := range snapshot {
		if _, orphan := handles[handle.Info.UUID]; orphan {
			res = append(res, &ServiceStatus{Handle: handle})
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type CreateServiceRequest struct {
	Type      string         `json:"type"`
	Room      string         `json:"room"`
	DependsOn []service.UUID `json:"depends"`
}

// CreateServiceRoute persists a new service and reconciles the live system.
type CreateServiceRoute struct {
	storage    storage.PersistentStorage
	controller ServiceController
}

func NewCreateServiceRoute(s storage.PersistentStorage, ctrl ServiceController) *CreateServiceRoute {
	return &CreateServiceRoute{storage: s, controller: ctrl}
}

func (h *CreateServiceRoute) Pattern() string {
	return "/services"
}

func (h *CreateServiceRoute) Method() string {
	return http.MethodPost
}

func (h *CreateServiceRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if !checkDependencies(w, r, h.storage, req.DependsOn) {
		return
	}

	entry, err := h.storage.CreateService(ctx, service.UnInitServiceEntry{Type: req.Type, Room: req.Room})
	if errors.Is(err, storage.ErrInvalidEntry) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(req.DependsOn) > 0 {
		entry.DependsOn = req.DependsOn
		if err := h.storage.UpdateService(ctx, entry); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := h.controller.Reconcile(ctx, false); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// PatchServiceRoute applies a JSON merge patch to a persisted service and reconciles. A patch
// introducing a dependency cycle is rolled back.
type PatchServiceRoute struct {
	storage    storage.PersistentStorage
	controller ServiceController
}

func NewPatchServiceRoute(s storage.PersistentStorage, ctrl ServiceController) *PatchServiceRoute {
	return &PatchServiceRoute{storage: s, controller: ctrl}
}

func (h *PatchServiceRoute) Pattern() string {
	return "/services/{uuid}"
}

func (h *PatchServiceRoute) Method() string {
	return http.MethodPatch
}

func (h *PatchServiceRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, ok := lookupEntry(w, r, h.storage)
	if !ok {
		return
	}
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	patched, err := storage.ApplyMergePatch(entry, patch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	added := make([]service.UUID, 0, len(patched.DependsOn))
	for _, dep := range patched.DependsOn {
		if !entry.DependsOnService(dep) {
			added = append(added, dep)
		}
	}
	if !checkDependencies(w, r, h.storage, added) {
		return
	}
	if err := h.storage.UpdateService(ctx, patched); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = h.controller.Reconcile(ctx, false)
	if errors.Is(err, controller.ErrDependencyCycle) {
		if rerr := h.storage.UpdateService(ctx, entry); rerr != nil {
			http.Error(w, rerr.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patched)
}

type RestartServiceRoute struct {
	storage    storage.PersistentStorage
	controller ServiceController
}

func NewRestartServiceRoute(s storage.PersistentStorage, ctrl ServiceController) *RestartServiceRoute {
	return &RestartServiceRoute{storage: s, controller: ctrl}
}

func (h *RestartServiceRoute) Pattern() string {
	return "/services/{uuid}/restart"
}

func (h *RestartServiceRoute) Method() string {
	return http.MethodPost
}

func (h *RestartServiceRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, ok := lookupEntry(w, r, h.storage)
	if !ok {
		return
	}
	if err := h.controller.RestartService(r.Context(), entry.UUID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteServiceRoute permanently removes a service, rewiring its dependents.
type DeleteServiceRoute struct {
	storage    storage.PersistentStorage
	controller ServiceController
}

func NewDeleteServiceRoute(s storage.PersistentStorage, ctrl ServiceController) *DeleteServiceRoute {
	return &DeleteServiceRoute{storage: s, controller: ctrl}
}

func (h *DeleteServiceRoute) Pattern() string {
	return "/services/{uuid}"
}

func (h *DeleteServiceRoute) Method() string {
	return http.MethodDelete
}

func (h *DeleteServiceRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, ok := lookupEntry(w, r, h.storage)
	if !ok {
		return
	}
	if err := h.controller.RemoveService(r.Context(), entry.UUID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupEntry resolves the {uuid} path parameter, writing an error response if that fails.
func lookupEntry(w http.ResponseWriter, r *http.Request, s storage.PersistentStorage) (*service.ServiceEntry, bool) {
	uuid := mux.Vars(r)["uuid"]
	entry, ok, err := s.QueryService(r.Context(), uuid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	} else if !ok {
		http.Error(w, fmt.Sprintf("service %s not found", uuid), http.StatusNotFound)
		return nil, false
	}
	return entry, true
}

// checkDependencies writes an error response unless every uuid in deps is a persisted service.
func checkDependencies(w http.ResponseWriter, r *http.Request, s storage.PersistentStorage, deps []service.UUID) bool {
	for _, dep := range deps {
		_, ok, err := s.QueryService(r.Context(), dep)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return false
		} else if !ok {
			http.Error(w, fmt.Sprintf("unknown dependency %s", dep), http.StatusBadRequest)
			return false
		}
	}
	return true
}
