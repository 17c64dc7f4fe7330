package minecraft

import (
	"regexp"
	"strings"

	"github.com/reedfamily/mcpanel/internal/game"
)

func init() {
	game.Register(&Adapter{})
}

// Adapter targets vanilla-compatible servers running a plugin that answers
// serverstat and playerlist with JSON.
type Adapter struct{}

var (
	joinRe  = regexp.MustCompile(`\[Server thread/INFO\].*: (\w+) joined the game`)
	leaveRe = regexp.MustCompile(`\[Server thread/INFO\].*: (\w+) left the game`)
	// Chat from unsigned clients is prefixed with [Not Secure] since 1.19.
	// Paper logs "[HH:MM:SS INFO]:" without the thread name.
	chatRe = regexp.MustCompile(`(?:/INFO\]|\d INFO\]).*?: (?:\[Not Secure\] )?<(\w+)> (.+)`)
)

func (a *Adapter) Game() string { return "minecraft" }

func (a *Adapter) StatsCommand() string      { return "serverstat" }
func (a *Adapter) PlayerListCommand() string { return "playerlist" }
func (a *Adapter) StopCommand() string       { return "stop" }

func (a *Adapter) ParseLogLine(line string) *game.LogEvent {
	line = strings.TrimRight(line, "\r\n")
	if m := chatRe.FindStringSubmatch(line); m != nil {
		return &game.LogEvent{Type: game.EventChat, Player: m[1], Message: m[2]}
	}
	if m := joinRe.FindStringSubmatch(line); m != nil {
		return &game.LogEvent{Type: game.EventJoin, Player: m[1]}
	}
	if m := leaveRe.FindStringSubmatch(line); m != nil {
		return &game.LogEvent{Type: game.EventLeave, Player: m[1]}
	}
	if strings.Contains(line, "ERROR") || strings.Contains(line, "FATAL") {
		return &game.LogEvent{Type: game.EventError, Message: line}
	}
	return nil
}
