// Package directory is the catalog of configured game servers.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/registry"
)

// PasswordMask replaces the RCON password in every outward view.
const PasswordMask = "***"

const DefaultGamePort = 25565

var (
	ErrNotFound = errors.New("server not found")
	ErrInvalid  = errors.New("invalid server config")
)

// ServerConfig identifies one game server and how to reach its RCON port.
type ServerConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	GamePort     int    `json:"gamePort"`
	RconPort     int    `json:"rconPort"`
	RconPassword string `json:"rconPassword"`
	// Container names the Docker container running the server, if any.
	Container string `json:"container,omitempty"`
}

// Masked returns a copy safe to hand to clients.
func (c ServerConfig) Masked() ServerConfig {
	c.RconPassword = PasswordMask
	return c
}

func (c ServerConfig) Endpoint() registry.Endpoint {
	return registry.Endpoint{Host: c.Host, Port: c.RconPort, Password: c.RconPassword}
}

func (c ServerConfig) validate() error {
	var problems []string
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(c.Host) == "" {
		problems = append(problems, "host is required")
	}
	if c.RconPort < 1 || c.RconPort > 65535 {
		problems = append(problems, "rconPort must be between 1 and 65535")
	}
	if c.GamePort < 1 || c.GamePort > 65535 {
		problems = append(problems, "gamePort must be between 1 and 65535")
	}
	if c.RconPassword == "" {
		problems = append(problems, "rconPassword is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, ", "))
	}
	return nil
}

// Patch carries the fields of an update; nil fields are left unchanged.
type Patch struct {
	Name         *string `json:"name"`
	Host         *string `json:"host"`
	GamePort     *int    `json:"gamePort"`
	RconPort     *int    `json:"rconPort"`
	RconPassword *string `json:"rconPassword"`
	Container    *string `json:"container"`
}

// apply merges p into c and reports whether connection parameters changed.
func (p Patch) apply(c *ServerConfig) (reconnect bool) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Host != nil && *p.Host != c.Host {
		c.Host = *p.Host
		reconnect = true
	}
	if p.GamePort != nil {
		c.GamePort = *p.GamePort
	}
	if p.RconPort != nil && *p.RconPort != c.RconPort {
		c.RconPort = *p.RconPort
		reconnect = true
	}
	// Clients echo the mask back when the password was not touched.
	if p.RconPassword != nil && *p.RconPassword != PasswordMask && *p.RconPassword != "" &&
		*p.RconPassword != c.RconPassword {
		c.RconPassword = *p.RconPassword
		reconnect = true
	}
	if p.Container != nil {
		c.Container = *p.Container
	}
	return reconnect
}

// Store persists the full set of server configs.
type Store interface {
	Load(ctx context.Context) ([]ServerConfig, error)
	Save(ctx context.Context, servers []ServerConfig) error
}

// Invalidator drops live sessions whose parameters are no longer current.
type Invalidator interface {
	Invalidate(id string)
}

// Directory holds server configs in memory and writes every change through
// to its Store.
type Directory struct {
	store Store

	mu      sync.RWMutex
	servers []ServerConfig

	invMu sync.RWMutex
	inv   Invalidator
}

// New loads the directory from store.
func New(ctx context.Context, store Store) (*Directory, error) {
	servers, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	return &Directory{store: store, servers: servers}, nil
}

// SetInvalidator wires the session owner notified on connection changes.
func (d *Directory) SetInvalidator(inv Invalidator) {
	d.invMu.Lock()
	d.inv = inv
	d.invMu.Unlock()
}

func (d *Directory) invalidate(id string) {
	d.invMu.RLock()
	inv := d.inv
	d.invMu.RUnlock()
	if inv != nil {
		inv.Invalidate(id)
	}
}

// List returns every server with its password masked.
func (d *Directory) List() []ServerConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ServerConfig, len(d.servers))
	for i, s := range d.servers {
		out[i] = s.Masked()
	}
	return out
}

// IDs returns the ids of all servers in display order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, len(d.servers))
	for i, s := range d.servers {
		ids[i] = s.ID
	}
	return ids
}

// Get returns one server with its password masked.
func (d *Directory) Get(id string) (ServerConfig, error) {
	cfg, ok := d.Config(id)
	if !ok {
		return ServerConfig{}, ErrNotFound
	}
	return cfg.Masked(), nil
}

// Config returns the unmasked config for internal callers.
func (d *Directory) Config(id string) (ServerConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.index(id); i >= 0 {
		return d.servers[i], true
	}
	return ServerConfig{}, false
}

// Lookup implements registry.Directory.
func (d *Directory) Lookup(id string) (registry.Endpoint, bool) {
	cfg, ok := d.Config(id)
	if !ok {
		return registry.Endpoint{}, false
	}
	return cfg.Endpoint(), true
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.servers)
}

// Add stores cfg under a freshly generated id. Any id on cfg is ignored.
func (d *Directory) Add(ctx context.Context, cfg ServerConfig) (ServerConfig, error) {
	if cfg.GamePort == 0 {
		cfg.GamePort = DefaultGamePort
	}
	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cfg.ID = d.newID()
	next := append(d.snapshot(), cfg)
	if err := d.store.Save(ctx, next); err != nil {
		return ServerConfig{}, fmt.Errorf("save servers: %w", err)
	}
	d.servers = next

	log.Info().Str("server", cfg.ID).Str("name", cfg.Name).Str("host", cfg.Host).Msg("server added")
	return cfg.Masked(), nil
}

// Update merges p into the server. A changed host, RCON port or password
// closes the live session so the next command reconnects.
func (d *Directory) Update(ctx context.Context, id string, p Patch) (ServerConfig, error) {
	d.mu.Lock()
	i := d.index(id)
	if i < 0 {
		d.mu.Unlock()
		return ServerConfig{}, ErrNotFound
	}

	cfg := d.servers[i]
	reconnect := p.apply(&cfg)
	if err := cfg.validate(); err != nil {
		d.mu.Unlock()
		return ServerConfig{}, err
	}

	next := d.snapshot()
	next[i] = cfg
	if err := d.store.Save(ctx, next); err != nil {
		d.mu.Unlock()
		return ServerConfig{}, fmt.Errorf("save servers: %w", err)
	}
	d.servers = next
	d.mu.Unlock()

	// Outside the lock: invalidation waits for an in-flight command, which
	// may itself be looking up this directory.
	if reconnect {
		d.invalidate(id)
	}
	log.Info().Str("server", id).Bool("reconnect", reconnect).Msg("server updated")
	return cfg.Masked(), nil
}

// Delete removes the server and closes its session.
func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	i := d.index(id)
	if i < 0 {
		d.mu.Unlock()
		return ErrNotFound
	}

	next := append(d.snapshot()[:i:i], d.servers[i+1:]...)
	if err := d.store.Save(ctx, next); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("save servers: %w", err)
	}
	d.servers = next
	d.mu.Unlock()

	d.invalidate(id)
	log.Info().Str("server", id).Msg("server deleted")
	return nil
}

// EnsureDefault adds cfg when the directory is empty and reports whether it
// did.
func (d *Directory) EnsureDefault(ctx context.Context, cfg ServerConfig) (bool, error) {
	if d.Len() > 0 {
		return false, nil
	}
	if _, err := d.Add(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Directory) index(id string) int {
	for i, s := range d.servers {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (d *Directory) snapshot() []ServerConfig {
	out := make([]ServerConfig, len(d.servers), len(d.servers)+1)
	copy(out, d.servers)
	return out
}

func (d *Directory) newID() string {
	for {
		id := uuid.New().String()[:8]
		if d.index(id) < 0 {
			return id
		}
	}
}
