package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/chat"
	"github.com/reedfamily/mcpanel/internal/directory"
)

type ChatHandler struct {
	dir   *directory.Directory
	relay *chat.Relay
}

func NewChatHandler(dir *directory.Directory, relay *chat.Relay) *ChatHandler {
	return &ChatHandler{dir: dir, relay: relay}
}

type historyFrame struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

type chatFrame struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// Messages returns recent chat for a server, ?limit= (default 50).
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	limit := chat.DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.relay.Messages(id, limit))
}

func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}
	h.relay.Clear(id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "chat cleared"})
}

// Webhook ingests a chat line posted by a server-side plugin.
func (h *ChatHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerID   string `json:"serverId"`
		Player     string `json:"player"`
		PlayerUUID string `json:"playerUuid"`
		Message    string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ServerID == "" || req.Player == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "serverId, player and message required")
		return
	}
	if _, err := h.dir.Get(req.ServerID); err != nil {
		writeFailure(w, r, err)
		return
	}

	msg, err := h.relay.Ingest(req.ServerID, req.Player, req.PlayerUUID, req.Message)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Stream is the chat push channel: one history frame, then a chat frame per
// message. ?serverId= scopes it to one server.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("serverId")
	if serverID != "" {
		if _, err := h.dir.Get(serverID); err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("chat websocket upgrade")
		return
	}
	defer conn.Close()

	sub := h.relay.Subscribe(serverID)
	defer sub.Close()

	if err := writeFrame(conn, historyFrame{Type: "history", Messages: sub.History}); err != nil {
		return
	}

	done := readUntilClosed(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				// Evicted for falling behind.
				return
			}
			if err := writeFrame(conn, chatFrame{Type: "chat", Message: msg}); err != nil {
				return
			}
		case <-ping.C:
			if err := writePing(conn); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
