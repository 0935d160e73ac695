// Package presence tracks which connections are currently in which room.
package presence

import (
	"sort"
	"sync"
)

// Registry is the source of truth for room membership.
//
// Unregister must remove the room entry in the same critical section that
// observes the set becoming empty, so no caller can see an empty entry.
type Registry interface {
	Register(roomID, connID string)
	Unregister(roomID, connID string) (empty bool)
	MemberCount(roomID string) int
	Members(roomID string) []string
	Rooms() []string
}

// MemoryRegistry is a single-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool // roomID -> set of connIDs
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string]map[string]bool)}
}

// Register adds connID to the room, creating the room entry if needed.
func (r *MemoryRegistry) Register(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]bool)
	}
	r.rooms[roomID][connID] = true
}

// Unregister removes connID and reports whether the room has no members left.
// An unknown room reports true.
func (r *MemoryRegistry) Unregister(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return true
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// MemberCount returns the number of connections in the room.
func (r *MemoryRegistry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Members returns a sorted snapshot of the room's connection ids.
func (r *MemoryRegistry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	result := make([]string, 0, len(members))
	for connID := range members {
		result = append(result, connID)
	}
	sort.Strings(result)
	return result
}

// Rooms returns the ids of all rooms with at least one member.
func (r *MemoryRegistry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		result = append(result, roomID)
	}
	sort.Strings(result)
	return result
}
