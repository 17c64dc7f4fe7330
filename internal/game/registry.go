package game

import (
	"sort"
	"sync"
)

// Default is the game assumed when none is configured.
const Default = "minecraft"

var (
	mu       sync.RWMutex
	adapters = map[string]Adapter{}
)

func Register(adapter Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters[adapter.Game()] = adapter
}

// Get returns the adapter registered for game, or nil.
func Get(game string) Adapter {
	mu.RLock()
	defer mu.RUnlock()
	return adapters[game]
}

// Names lists the registered games in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(adapters))
	for k := range adapters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
