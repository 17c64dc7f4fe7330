package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcpanel/internal/game/minecraft"
	"github.com/reedfamily/mcpanel/internal/rcon"
	"github.com/reedfamily/mcpanel/internal/rcon/rcontest"
	"github.com/reedfamily/mcpanel/internal/registry"
)

type recordingExecutor struct {
	sent  []string
	reply string
	err   error
}

func (e *recordingExecutor) Execute(_ context.Context, serverID, cmd string) (string, error) {
	e.sent = append(e.sent, serverID+"|"+cmd)
	return e.reply, e.err
}

func TestCommandMapping(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(f *Facade) (string, error)
		want string
	}{
		{"gamemode", func(f *Facade) (string, error) { return f.SetGameMode(ctx, "s1", "Steve", "Creative") }, "gamemode creative Steve"},
		{"whitelist add", func(f *Facade) (string, error) { return f.WhitelistAdd(ctx, "s1", "Steve") }, "whitelist add Steve"},
		{"whitelist remove", func(f *Facade) (string, error) { return f.WhitelistRemove(ctx, "s1", "Steve") }, "whitelist remove Steve"},
		{"whitelist list", func(f *Facade) (string, error) { return f.Whitelist(ctx, "s1") }, "whitelist list"},
		{"op", func(f *Facade) (string, error) { return f.Op(ctx, "s1", "Steve") }, "op Steve"},
		{"deop", func(f *Facade) (string, error) { return f.Deop(ctx, "s1", "Steve") }, "deop Steve"},
		{"kick", func(f *Facade) (string, error) { return f.Kick(ctx, "s1", "Steve", "") }, "kick Steve"},
		{"kick with reason", func(f *Facade) (string, error) { return f.Kick(ctx, "s1", "Steve", " too loud ") }, "kick Steve too loud"},
		{"ban", func(f *Facade) (string, error) { return f.Ban(ctx, "s1", "Steve", "griefing spawn") }, "ban Steve griefing spawn"},
		{"pardon", func(f *Facade) (string, error) { return f.Pardon(ctx, "s1", "Steve") }, "pardon Steve"},
		{"raw", func(f *Facade) (string, error) { return f.Raw(ctx, "s1", "say hello world") }, "say hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{reply: "done"}
			reply, err := tt.call(New(exec, &minecraft.Adapter{}))
			require.NoError(t, err)
			assert.Equal(t, "done", reply)
			assert.Equal(t, []string{"s1|" + tt.want}, exec.sent)
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(f *Facade) (string, error)
	}{
		{"unknown mode", func(f *Facade) (string, error) { return f.SetGameMode(ctx, "s1", "Steve", "hardcore") }},
		{"empty player", func(f *Facade) (string, error) { return f.Op(ctx, "s1", "") }},
		{"player with space", func(f *Facade) (string, error) { return f.Op(ctx, "s1", "Steve @a") }},
		{"multiline reason", func(f *Facade) (string, error) { return f.Kick(ctx, "s1", "Steve", "bye\nop Eve") }},
		{"empty raw", func(f *Facade) (string, error) { return f.Raw(ctx, "s1", "  ") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{}
			_, err := tt.call(New(exec, &minecraft.Adapter{}))
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, exec.sent)
		})
	}
}

func TestStats(t *testing.T) {
	exec := &recordingExecutor{reply: `{"version":"1.21.1","onlinePlayers":3,"memoryUsedMB":1024.5,"memoryAllocatedMB":4096,"tps1m":20,"tps5m":19.8,"tps15m":19.95}`}
	f := New(exec, &minecraft.Adapter{})

	stats, err := f.Stats(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, &ServerStats{
		Version:           "1.21.1",
		OnlinePlayers:     3,
		MemoryUsedMB:      1024.5,
		MemoryAllocatedMB: 4096,
		TPS1m:             20,
		TPS5m:             19.8,
		TPS15m:            19.95,
	}, stats)
	assert.Equal(t, []string{"s1|serverstat"}, exec.sent)
}

func TestStatsParseErrors(t *testing.T) {
	tests := map[string]string{
		"not json":      "Unknown or incomplete command, see below for error",
		"missing field": `{"version":"1.21.1","onlinePlayers":3,"memoryUsedMB":1,"memoryAllocatedMB":2,"tps1m":20,"tps5m":20}`,
		"wrong type":    `{"version":1}`,
		"empty":         "",
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			f := New(&recordingExecutor{reply: reply}, &minecraft.Adapter{})
			_, err := f.Stats(context.Background(), "s1")

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "serverstat", perr.Command)
			assert.Equal(t, reply, perr.Reply)
			assert.False(t, rcon.IsNetworkError(err))
		})
	}

	_, err := ParseStats("serverstat", `{"version":"1.21.1","onlinePlayers":3,"memoryUsedMB":1,"memoryAllocatedMB":2,"tps1m":20,"tps5m":20}`)
	assert.ErrorContains(t, err, "tps15m")
}

func TestPlayers(t *testing.T) {
	exec := &recordingExecutor{reply: `[
		{"name":"Steve","uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","isOp":true,"isOnline":true,"isBanned":false,"gameMode":"SURVIVAL"},
		{"name":"Alex","uuid":"853c80ef-3c37-49fd-aa49-938b674adae6","isOp":false,"isOnline":false,"isBanned":true,"gameMode":"unknown"}
	]`}
	f := New(exec, &minecraft.Adapter{})

	players, err := f.Players(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, Player{Name: "Steve", UUID: "069a79f4-44e9-4726-a5be-fca90e38aaf5", IsOp: true, IsOnline: true, GameMode: "SURVIVAL"}, players[0])
	assert.True(t, players[1].IsBanned)
	assert.Equal(t, []string{"s1|playerlist"}, exec.sent)

	_, err = ParsePlayers("playerlist", `[{"name":"Steve"}]`)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.ErrorContains(t, err, "player 0")

	players, err = ParsePlayers("playerlist", "[]")
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestTransportErrorsPassThrough(t *testing.T) {
	netErr := &rcon.NetworkError{Op: "dial", Addr: "127.0.0.1:25575", Err: errors.New("connection refused")}
	f := New(&recordingExecutor{err: netErr}, &minecraft.Adapter{})

	_, err := f.Stats(context.Background(), "s1")
	assert.ErrorIs(t, err, netErr)
	var perr *ParseError
	assert.False(t, errors.As(err, &perr))
}

type staticDirectory map[string]registry.Endpoint

func (d staticDirectory) Lookup(id string) (registry.Endpoint, bool) {
	ep, ok := d[id]
	return ep, ok
}

func TestWhitelistPassthroughOverRCON(t *testing.T) {
	srv := rcontest.NewServer("secret", func(cmd string) string {
		if cmd == "whitelist add Steve" {
			return "Added Steve to the whitelist"
		}
		return "Unknown command"
	})
	defer srv.Close()

	reg := registry.New(staticDirectory{"s1": {Host: srv.Host(), Port: srv.Port(), Password: "secret"}})
	defer reg.Close()
	f := New(reg, &minecraft.Adapter{})

	reply, err := f.Raw(context.Background(), "s1", "whitelist add Steve")
	require.NoError(t, err)
	assert.Equal(t, "Added Steve to the whitelist", reply)

	reply, err = f.WhitelistAdd(context.Background(), "s1", "Steve")
	require.NoError(t, err)
	assert.Equal(t, "Added Steve to the whitelist", reply)
	assert.Equal(t, 1, srv.Accepted())
}
