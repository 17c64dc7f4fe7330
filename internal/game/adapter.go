package game

// Adapter provides game-specific command strings and log parsing for a
// server type.
type Adapter interface {
	// Game returns the game identifier (e.g., "minecraft").
	Game() string

	// StatsCommand returns the command answering with a JSON stats payload.
	StatsCommand() string

	// PlayerListCommand returns the command answering with a JSON player list.
	PlayerListCommand() string

	// StopCommand returns the graceful stop command for the server.
	StopCommand() string

	// ParseLogLine extracts structured events from console log lines.
	ParseLogLine(line string) *LogEvent
}

type EventType string

const (
	EventJoin  EventType = "player_join"
	EventLeave EventType = "player_leave"
	EventChat  EventType = "chat"
	EventError EventType = "error"
)

type LogEvent struct {
	Type    EventType
	Player  string
	Message string
}
