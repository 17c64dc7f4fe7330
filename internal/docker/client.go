// Package docker controls the containers that back game servers and
// discovers their RCON endpoints.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultRCONPort = 25575
	DefaultGamePort = 25565

	stopTimeoutSeconds = 30
)

var ErrNoRCONPassword = errors.New("container has no RCON_PASSWORD set")

// containerAPI is the subset of the Docker engine client in use.
type containerAPI interface {
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainerStop(ctx context.Context, id string, opts container.StopOptions) error
	ContainerRestart(ctx context.Context, id string, opts container.StopOptions) error
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

type Client struct {
	api containerAPI
	// host is used for published ports bound to all interfaces.
	host string
}

// NewClient connects to the engine configured by the DOCKER_* environment.
// Published ports bound to all interfaces are reached through host.
func NewClient(host string) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newClient(cli, host), nil
}

func newClient(api containerAPI, host string) *Client {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Client{api: api, host: host}
}

func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) Start(ctx context.Context, name string) error {
	if err := c.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, name string) error {
	timeout := stopTimeoutSeconds
	if err := c.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, name string) error {
	timeout := stopTimeoutSeconds
	if err := c.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	return nil
}

type Status struct {
	Container string `json:"container"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
	StartedAt string `json:"startedAt,omitempty"`
	Health    string `json:"health,omitempty"`
}

func (c *Client) Status(ctx context.Context, name string) (*Status, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	st := &Status{Container: name, State: "unknown"}
	if info.ContainerJSONBase != nil && info.State != nil {
		st.State = info.State.Status
		st.Running = info.State.Running
		st.StartedAt = info.State.StartedAt
		if info.State.Health != nil {
			st.Health = info.State.Health.Status
		}
	}
	return st, nil
}

// FollowLogs streams the container's output from now on. Non-TTY containers
// multiplex stdout and stderr; those are merged into one plain stream.
func (c *Client) FollowLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	logs, err := c.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		return nil, fmt.Errorf("logs %s: %w", name, err)
	}
	if info.Config != nil && info.Config.Tty {
		return logs, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, logs)
		_ = logs.Close()
		pw.CloseWithError(err)
	}()
	return &demuxed{PipeReader: pr, src: logs}, nil
}

// demuxed closes the engine stream along with the pipe so the copier exits.
type demuxed struct {
	*io.PipeReader
	src io.Closer
}

func (d *demuxed) Close() error {
	_ = d.src.Close()
	return d.PipeReader.Close()
}

// Endpoint is an RCON endpoint discovered from a container.
type Endpoint struct {
	Container    string `json:"container"`
	Host         string `json:"host"`
	GamePort     int    `json:"gamePort"`
	RconPort     int    `json:"rconPort"`
	RconPassword string `json:"-"`
}

// Discover reads the RCON settings of a container running a Minecraft
// server image configured through RCON_PASSWORD / RCON_PORT / SERVER_PORT.
func (c *Client) Discover(ctx context.Context, name string) (*Endpoint, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}

	var env []string
	if info.Config != nil {
		env = info.Config.Env
	}
	var ports nat.PortMap
	var ip string
	if info.NetworkSettings != nil {
		ports = info.NetworkSettings.Ports
		ip = containerIP(info.NetworkSettings)
	}

	ep, err := resolveEndpoint(env, ports, ip, c.host)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", name, err)
	}
	ep.Container = strings.TrimPrefix(name, "/")
	return ep, nil
}

// containerIP returns the address on the first network, by name.
func containerIP(ns *types.NetworkSettings) string {
	names := make([]string, 0, len(ns.Networks))
	for n := range ns.Networks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if s := ns.Networks[n]; s != nil && s.IPAddress != "" {
			return s.IPAddress
		}
	}
	return ""
}

// resolveEndpoint prefers a published host port and falls back to the
// container's own address.
func resolveEndpoint(env []string, ports nat.PortMap, containerIP, defaultHost string) (*Endpoint, error) {
	vars := parseEnv(env)
	password := vars["RCON_PASSWORD"]
	if password == "" {
		return nil, ErrNoRCONPassword
	}

	rconPort := envPort(vars, "RCON_PORT", DefaultRCONPort)
	gamePort := envPort(vars, "SERVER_PORT", DefaultGamePort)

	ep := &Endpoint{RconPassword: password, RconPort: rconPort, GamePort: gamePort}
	if host, port, ok := published(ports, rconPort, defaultHost); ok {
		ep.Host, ep.RconPort = host, port
		if _, gp, ok := published(ports, gamePort, defaultHost); ok {
			ep.GamePort = gp
		}
		return ep, nil
	}
	if containerIP == "" {
		return nil, fmt.Errorf("rcon port %d is not published and the container has no address", rconPort)
	}
	ep.Host = containerIP
	return ep, nil
}

func published(ports nat.PortMap, port int, defaultHost string) (string, int, bool) {
	p, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", 0, false
	}
	for _, b := range ports[p] {
		hostPort, err := strconv.Atoi(b.HostPort)
		if err != nil || hostPort <= 0 {
			continue
		}
		host := b.HostIP
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			host = defaultHost
		}
		return host, hostPort, true
	}
	return "", 0, false
}

func parseEnv(env []string) map[string]string {
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}

func envPort(vars map[string]string, key string, def int) int {
	if n, err := strconv.Atoi(vars[key]); err == nil && n > 0 && n <= 65535 {
		return n
	}
	return def
}
