package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/docker"
)

// Containers controls the containers backing servers.
type Containers interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (*docker.Status, error)
	Discover(ctx context.Context, name string) (*docker.Endpoint, error)
}

type ContainerHandler struct {
	dir         *directory.Directory
	containers  Containers
	invalidator directory.Invalidator
}

func NewContainerHandler(dir *directory.Directory, containers Containers, inv directory.Invalidator) *ContainerHandler {
	return &ContainerHandler{dir: dir, containers: containers, invalidator: inv}
}

// container returns the container name of server {id}.
func (h *ContainerHandler) container(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id := chi.URLParam(r, "id")
	cfg, err := h.dir.Get(id)
	if err != nil {
		writeFailure(w, r, err)
		return "", "", false
	}
	if cfg.Container == "" {
		writeError(w, http.StatusBadRequest, "server has no container")
		return "", "", false
	}
	return id, cfg.Container, true
}

func (h *ContainerHandler) Status(w http.ResponseWriter, r *http.Request) {
	_, name, ok := h.container(w, r)
	if !ok {
		return
	}
	st, err := h.containers.Status(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Power starts, stops or restarts the container. Stopping or restarting
// drops the RCON session, which would otherwise fail on next use.
func (h *ContainerHandler) Power(w http.ResponseWriter, r *http.Request) {
	id, name, ok := h.container(w, r)
	if !ok {
		return
	}

	action := chi.URLParam(r, "action")
	var err error
	switch action {
	case "start":
		err = h.containers.Start(r.Context(), name)
	case "stop":
		err = h.containers.Stop(r.Context(), name)
	case "restart":
		err = h.containers.Restart(r.Context(), name)
	default:
		writeError(w, http.StatusBadRequest, "action must be one of: start, stop, restart")
		return
	}
	if action != "start" {
		h.invalidator.Invalidate(id)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	log.Info().Str("server", id).Str("container", name).Str("action", action).Msg("container power action")
	writeJSON(w, http.StatusOK, map[string]string{"message": "container " + action + " requested"})
}

// Discover reads the RCON settings of a container and, with add set,
// registers it as a server.
func (h *ContainerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Container string `json:"container"`
		Name      string `json:"name"`
		Add       bool   `json:"add"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Container) == "" {
		writeError(w, http.StatusBadRequest, "container is required")
		return
	}

	ep, err := h.containers.Discover(r.Context(), req.Container)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	cfg := directory.ServerConfig{
		Name:         req.Name,
		Host:         ep.Host,
		GamePort:     ep.GamePort,
		RconPort:     ep.RconPort,
		RconPassword: ep.RconPassword,
		Container:    ep.Container,
	}
	if cfg.Name == "" {
		cfg.Name = ep.Container
	}
	if !req.Add {
		writeJSON(w, http.StatusOK, cfg.Masked())
		return
	}

	added, err := h.dir.Add(r.Context(), cfg)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}
