package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/commands"
	"github.com/reedfamily/mcpanel/internal/directory"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = pongWait * 9 / 10
	maxInboundSize = 4096
)

// Websocket routes authenticate with ?token= before upgrading.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func writePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readUntilClosed discards inbound frames and closes the returned channel
// when the peer goes away or stops answering pings.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

type consoleFrame struct {
	Type     string `json:"type"`
	Command  string `json:"command"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ConsoleHandler is an interactive RCON console: each text frame is run as a
// command and answered with a response or error frame.
type ConsoleHandler struct {
	dir    *directory.Directory
	facade *commands.Facade
}

func NewConsoleHandler(dir *directory.Directory, facade *commands.Facade) *ConsoleHandler {
	return &ConsoleHandler{dir: dir, facade: facade}
}

func (h *ConsoleHandler) Handle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("console websocket upgrade")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxInboundSize)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		cmd := string(msg)
		if strings.TrimSpace(cmd) == "" {
			continue
		}

		frame := consoleFrame{Type: "response", Command: cmd}
		reply, err := h.facade.Raw(r.Context(), id, cmd)
		if err != nil {
			_, text := classify(err)
			frame.Type, frame.Error = "error", text
		} else {
			frame.Response = reply
		}
		if err := writeFrame(conn, frame); err != nil {
			return
		}
	}
}
