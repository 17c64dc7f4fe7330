// Package commands turns admin actions into Minecraft console commands and
// decodes the structured replies of the stats and player-list commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reedfamily/mcpanel/internal/game"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Executor runs a console command on a server.
type Executor interface {
	Execute(ctx context.Context, serverID, cmd string) (string, error)
}

var gameModes = map[string]bool{
	"survival":  true,
	"creative":  true,
	"adventure": true,
	"spectator": true,
}

// Facade issues admin commands through an Executor.
type Facade struct {
	exec    Executor
	adapter game.Adapter
}

func New(exec Executor, adapter game.Adapter) *Facade {
	return &Facade{exec: exec, adapter: adapter}
}

// Raw sends cmd verbatim and returns the reply text unmodified.
func (f *Facade) Raw(ctx context.Context, serverID, cmd string) (string, error) {
	if strings.TrimSpace(cmd) == "" {
		return "", fmt.Errorf("%w: command is required", ErrInvalidArgument)
	}
	return f.exec.Execute(ctx, serverID, cmd)
}

func (f *Facade) SetGameMode(ctx context.Context, serverID, player, mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if !gameModes[mode] {
		return "", fmt.Errorf("%w: unknown game mode %q", ErrInvalidArgument, mode)
	}
	return f.playerCommand(ctx, serverID, "gamemode "+mode, player, "")
}

func (f *Facade) WhitelistAdd(ctx context.Context, serverID, player string) (string, error) {
	return f.playerCommand(ctx, serverID, "whitelist add", player, "")
}

func (f *Facade) WhitelistRemove(ctx context.Context, serverID, player string) (string, error) {
	return f.playerCommand(ctx, serverID, "whitelist remove", player, "")
}

// Whitelist returns the server's own rendering of the whitelist.
func (f *Facade) Whitelist(ctx context.Context, serverID string) (string, error) {
	return f.exec.Execute(ctx, serverID, "whitelist list")
}

func (f *Facade) Op(ctx context.Context, serverID, player string) (string, error) {
	return f.playerCommand(ctx, serverID, "op", player, "")
}

func (f *Facade) Deop(ctx context.Context, serverID, player string) (string, error) {
	return f.playerCommand(ctx, serverID, "deop", player, "")
}

func (f *Facade) Kick(ctx context.Context, serverID, player, reason string) (string, error) {
	return f.playerCommand(ctx, serverID, "kick", player, reason)
}

func (f *Facade) Ban(ctx context.Context, serverID, player, reason string) (string, error) {
	return f.playerCommand(ctx, serverID, "ban", player, reason)
}

func (f *Facade) Pardon(ctx context.Context, serverID, player string) (string, error) {
	return f.playerCommand(ctx, serverID, "pardon", player, "")
}

// Stats runs the game's stats command and decodes its JSON reply.
func (f *Facade) Stats(ctx context.Context, serverID string) (*ServerStats, error) {
	cmd := f.adapter.StatsCommand()
	reply, err := f.exec.Execute(ctx, serverID, cmd)
	if err != nil {
		return nil, err
	}
	return ParseStats(cmd, reply)
}

// Players runs the game's player-list command and decodes its JSON reply.
func (f *Facade) Players(ctx context.Context, serverID string) ([]Player, error) {
	cmd := f.adapter.PlayerListCommand()
	reply, err := f.exec.Execute(ctx, serverID, cmd)
	if err != nil {
		return nil, err
	}
	return ParsePlayers(cmd, reply)
}

func (f *Facade) playerCommand(ctx context.Context, serverID, verb, player, reason string) (string, error) {
	if err := validatePlayer(player); err != nil {
		return "", err
	}
	cmd := verb + " " + player
	if reason = strings.TrimSpace(reason); reason != "" {
		if strings.ContainsAny(reason, "\r\n") {
			return "", fmt.Errorf("%w: reason must be a single line", ErrInvalidArgument)
		}
		cmd += " " + reason
	}
	return f.exec.Execute(ctx, serverID, cmd)
}

func validatePlayer(player string) error {
	if player == "" {
		return fmt.Errorf("%w: player is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(player, " \t\r\n") {
		return fmt.Errorf("%w: player %q contains whitespace", ErrInvalidArgument, player)
	}
	return nil
}
