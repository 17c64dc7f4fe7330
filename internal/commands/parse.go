package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ParseError reports a structured reply that could not be decoded. Reply
// holds the raw text the server sent.
type ParseError struct {
	Command string
	Reply   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q reply: %v", e.Command, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type ServerStats struct {
	Version           string  `json:"version"`
	OnlinePlayers     int     `json:"onlinePlayers"`
	MemoryUsedMB      float64 `json:"memoryUsedMB"`
	MemoryAllocatedMB float64 `json:"memoryAllocatedMB"`
	TPS1m             float64 `json:"tps1m"`
	TPS5m             float64 `json:"tps5m"`
	TPS15m            float64 `json:"tps15m"`
}

type Player struct {
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	IsOp     bool   `json:"isOp"`
	IsOnline bool   `json:"isOnline"`
	IsBanned bool   `json:"isBanned"`
	GameMode string `json:"gameMode"`
}

// Pointers tell an absent field apart from a zero value.
type rawStats struct {
	Version           *string  `json:"version"`
	OnlinePlayers     *int     `json:"onlinePlayers"`
	MemoryUsedMB      *float64 `json:"memoryUsedMB"`
	MemoryAllocatedMB *float64 `json:"memoryAllocatedMB"`
	TPS1m             *float64 `json:"tps1m"`
	TPS5m             *float64 `json:"tps5m"`
	TPS15m            *float64 `json:"tps15m"`
}

type rawPlayer struct {
	Name     *string `json:"name"`
	UUID     *string `json:"uuid"`
	IsOp     *bool   `json:"isOp"`
	IsOnline *bool   `json:"isOnline"`
	IsBanned *bool   `json:"isBanned"`
	GameMode *string `json:"gameMode"`
}

// ParseStats decodes the reply of the stats command.
func ParseStats(cmd, reply string) (*ServerStats, error) {
	var raw rawStats
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &raw); err != nil {
		return nil, &ParseError{Command: cmd, Reply: reply, Err: err}
	}

	missing := missingFields(map[string]bool{
		"version":           raw.Version == nil,
		"onlinePlayers":     raw.OnlinePlayers == nil,
		"memoryUsedMB":      raw.MemoryUsedMB == nil,
		"memoryAllocatedMB": raw.MemoryAllocatedMB == nil,
		"tps1m":             raw.TPS1m == nil,
		"tps5m":             raw.TPS5m == nil,
		"tps15m":            raw.TPS15m == nil,
	})
	if missing != nil {
		return nil, &ParseError{Command: cmd, Reply: reply, Err: missing}
	}

	return &ServerStats{
		Version:           *raw.Version,
		OnlinePlayers:     *raw.OnlinePlayers,
		MemoryUsedMB:      *raw.MemoryUsedMB,
		MemoryAllocatedMB: *raw.MemoryAllocatedMB,
		TPS1m:             *raw.TPS1m,
		TPS5m:             *raw.TPS5m,
		TPS15m:            *raw.TPS15m,
	}, nil
}

// ParsePlayers decodes the reply of the player-list command.
func ParsePlayers(cmd, reply string) ([]Player, error) {
	var raw []rawPlayer
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &raw); err != nil {
		return nil, &ParseError{Command: cmd, Reply: reply, Err: err}
	}

	players := make([]Player, 0, len(raw))
	for i, p := range raw {
		missing := missingFields(map[string]bool{
			"name":     p.Name == nil,
			"uuid":     p.UUID == nil,
			"isOp":     p.IsOp == nil,
			"isOnline": p.IsOnline == nil,
			"isBanned": p.IsBanned == nil,
			"gameMode": p.GameMode == nil,
		})
		if missing != nil {
			return nil, &ParseError{Command: cmd, Reply: reply, Err: fmt.Errorf("player %d: %w", i, missing)}
		}
		players = append(players, Player{
			Name:     *p.Name,
			UUID:     *p.UUID,
			IsOp:     *p.IsOp,
			IsOnline: *p.IsOnline,
			IsBanned: *p.IsBanned,
			GameMode: *p.GameMode,
		})
	}
	return players, nil
}

var errMissingField = errors.New("missing field")

func missingFields(absent map[string]bool) error {
	var names []string
	for name, isAbsent := range absent {
		if isAbsent {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s", errMissingField, strings.Join(names, ", "))
}
