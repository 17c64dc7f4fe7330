package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/mcpanel/internal/commands"
)

type CommandHandler struct {
	facade *commands.Facade
}

func NewCommandHandler(facade *commands.Facade) *CommandHandler {
	return &CommandHandler{facade: facade}
}

type commandResponse struct {
	Response string `json:"response"`
}

// Execute sends a raw console command exactly as given.
func (h *CommandHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}

	reply, err := h.facade.Raw(r.Context(), chi.URLParam(r, "id"), req.Command)
	h.reply(w, r, reply, err)
}

// Broadcast announces a message to every player with say.
func (h *CommandHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || strings.ContainsAny(msg, "\r\n") {
		writeError(w, http.StatusBadRequest, "message must be a single non-empty line")
		return
	}

	reply, err := h.facade.Raw(r.Context(), chi.URLParam(r, "id"), "say "+msg)
	h.reply(w, r, reply, err)
}

// PlayerAction runs one of the per-player admin commands.
func (h *CommandHandler) PlayerAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode   string `json:"mode"`
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, player := chi.URLParam(r, "id"), chi.URLParam(r, "player")
	var run func(ctx context.Context) (string, error)
	switch chi.URLParam(r, "action") {
	case "gamemode":
		run = func(ctx context.Context) (string, error) { return h.facade.SetGameMode(ctx, id, player, req.Mode) }
	case "whitelist":
		run = func(ctx context.Context) (string, error) { return h.facade.WhitelistAdd(ctx, id, player) }
	case "op":
		run = func(ctx context.Context) (string, error) { return h.facade.Op(ctx, id, player) }
	case "deop":
		run = func(ctx context.Context) (string, error) { return h.facade.Deop(ctx, id, player) }
	case "kick":
		run = func(ctx context.Context) (string, error) { return h.facade.Kick(ctx, id, player, req.Reason) }
	case "ban":
		run = func(ctx context.Context) (string, error) { return h.facade.Ban(ctx, id, player, req.Reason) }
	case "pardon":
		run = func(ctx context.Context) (string, error) { return h.facade.Pardon(ctx, id, player) }
	default:
		writeError(w, http.StatusNotFound, "unknown player action")
		return
	}

	reply, err := run(r.Context())
	h.reply(w, r, reply, err)
}

func (h *CommandHandler) WhitelistRemove(w http.ResponseWriter, r *http.Request) {
	reply, err := h.facade.WhitelistRemove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "player"))
	h.reply(w, r, reply, err)
}

func (h *CommandHandler) Whitelist(w http.ResponseWriter, r *http.Request) {
	reply, err := h.facade.Whitelist(r.Context(), chi.URLParam(r, "id"))
	h.reply(w, r, reply, err)
}

func (h *CommandHandler) Players(w http.ResponseWriter, r *http.Request) {
	players, err := h.facade.Players(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

// Stats queries the server directly rather than the collector's cache.
func (h *CommandHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.facade.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *CommandHandler) reply(w http.ResponseWriter, r *http.Request, reply string, err error) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Response: reply})
}
