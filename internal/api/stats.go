package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/stats"
)

const maxHistoryPeriod = 7 * 24 * time.Hour

type StatsHandler struct {
	dir       *directory.Directory
	collector *stats.Collector
}

func NewStatsHandler(dir *directory.Directory, collector *stats.Collector) *StatsHandler {
	return &StatsHandler{dir: dir, collector: collector}
}

// Latest returns the most recent polled sample for a server.
func (h *StatsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	s := h.collector.Latest(id)
	if s == nil {
		writeError(w, http.StatusNotFound, "no stats available")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// History returns stored samples for ?period= (default 1h).
func (h *StatsHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1h"
	}
	d, err := time.ParseDuration(period)
	if err != nil || d <= 0 || d > maxHistoryPeriod {
		writeError(w, http.StatusBadRequest, "invalid period: use a duration like 30m, 6h or 24h")
		return
	}

	samples, err := h.collector.History(r.Context(), id, d)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// Live pushes every new sample for the server over a websocket.
func (h *StatsHandler) Live(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.dir.Get(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("stats websocket upgrade")
		return
	}
	defer conn.Close()

	ch := h.collector.Subscribe(id)
	defer h.collector.Unsubscribe(id, ch)

	if latest := h.collector.Latest(id); latest != nil {
		if err := writeFrame(conn, latest); err != nil {
			return
		}
	}

	done := readUntilClosed(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := writeFrame(conn, s); err != nil {
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
