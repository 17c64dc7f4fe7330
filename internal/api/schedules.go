package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/scheduler"
)

type ScheduleHandler struct {
	dir   *directory.Directory
	store *scheduler.Store
}

func NewScheduleHandler(dir *directory.Directory, store *scheduler.Store) *ScheduleHandler {
	return &ScheduleHandler{dir: dir, store: store}
}

// serverID returns the {id} route parameter after checking it exists.
func (h *ScheduleHandler) serverID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return "", false
	}
	return id, true
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	schedules, err := h.store.List(r.Context(), serverID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name    string `json:"name"`
		Cron    string `json:"cron"`
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := h.store.Create(r.Context(), scheduler.Schedule{
		ServerID: serverID,
		Name:     req.Name,
		Cron:     req.Cron,
		Command:  req.Command,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}

	var patch scheduler.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := h.store.Update(r.Context(), serverID, chi.URLParam(r, "scheduleId"), patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), serverID, chi.URLParam(r, "scheduleId")); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "schedule deleted"})
}
