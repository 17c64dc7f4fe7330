package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reedfamily/mcpanel/internal/commands"
	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/profile"
	"github.com/reedfamily/mcpanel/internal/rcon"
	"github.com/reedfamily/mcpanel/internal/registry"
	"github.com/reedfamily/mcpanel/internal/scheduler"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unknown server", fmt.Errorf("%w: x", registry.ErrServerNotFound), http.StatusNotFound, "server not found: x"},
		{"directory not found", directory.ErrNotFound, http.StatusNotFound, "server not found"},
		{"schedule not found", scheduler.ErrNotFound, http.StatusNotFound, scheduler.ErrNotFound.Error()},
		{"invalid config", fmt.Errorf("%w: name is required", directory.ErrInvalid), http.StatusBadRequest, "invalid server config: name is required"},
		{"invalid argument", fmt.Errorf("%w: player is required", commands.ErrInvalidArgument), http.StatusBadRequest, "invalid argument: player is required"},
		{"command too long", rcon.ErrCommandTooLong, http.StatusBadRequest, rcon.ErrCommandTooLong.Error()},
		{"auth", fmt.Errorf("login: %w", rcon.ErrAuth), http.StatusBadGateway, "rcon authentication failed"},
		{"network", &rcon.NetworkError{Op: "dial", Addr: "mc:25575", Err: errors.New("refused")}, http.StatusGatewayTimeout, "server unreachable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "server unreachable"},
		{"parse", &commands.ParseError{Command: "serverstat", Err: errors.New("bad json")}, http.StatusBadGateway, `parse "serverstat" reply: bad json`},
		{"upstream", &profile.UpstreamError{URL: "u", StatusCode: 503}, http.StatusBadGateway, "profile service unavailable"},
		{"canceled", context.Canceled, 499, "request canceled"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}
