package api

import (
	"net/http"
	"strings"

	"github.com/reedfamily/mcpanel/internal/profile"
)

type ProfileHandler struct {
	client *profile.Client
}

func NewProfileHandler(client *profile.Client) *ProfileHandler {
	return &ProfileHandler{client: client}
}

// Lookup resolves {query}, a player name or UUID, to {id, name}.
func (h *ProfileHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	p, err := h.client.Lookup(r.Context(), req.Query)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
