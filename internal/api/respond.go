package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/chat"
	"github.com/reedfamily/mcpanel/internal/commands"
	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/docker"
	"github.com/reedfamily/mcpanel/internal/profile"
	"github.com/reedfamily/mcpanel/internal/rcon"
	"github.com/reedfamily/mcpanel/internal/registry"
	"github.com/reedfamily/mcpanel/internal/scheduler"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for requests whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeFailure maps a domain error onto an HTTP status.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		netErr      *rcon.NetworkError
		parseErr    *commands.ParseError
		upstreamErr *profile.UpstreamError
	)
	switch {
	case errors.Is(err, registry.ErrServerNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, scheduler.ErrNotFound),
		errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, directory.ErrInvalid),
		errors.Is(err, scheduler.ErrInvalid),
		errors.Is(err, commands.ErrInvalidArgument),
		errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, rcon.ErrCommandTooLong),
		errors.Is(err, docker.ErrNoRCONPassword):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, rcon.ErrAuth):
		return http.StatusBadGateway, "rcon authentication failed"
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "server unreachable"
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, parseErr.Error()
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, "profile service unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
