package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/registry"
)

type ServerHandler struct {
	dir      *directory.Directory
	registry *registry.Registry
	onDelete []func(id string)
}

// NewServerHandler serves server CRUD. onDelete hooks run after a server
// has been removed, to drop state kept for it elsewhere.
func NewServerHandler(dir *directory.Directory, reg *registry.Registry, onDelete ...func(id string)) *ServerHandler {
	return &ServerHandler{dir: dir, registry: reg, onDelete: onDelete}
}

func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dir.List())
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.dir.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req directory.ServerConfig
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.dir.Add(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch directory.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.dir.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dir.Delete(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	for _, fn := range h.onDelete {
		fn(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "server deleted"})
}

// Test runs a harmless command and reports whether it succeeded.
func (h *ServerHandler) Test(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Test(r.Context(), id))
}

func (h *ServerHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"servers":  h.dir.Len(),
		"sessions": h.registry.Len(),
	})
}
