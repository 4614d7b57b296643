// Package presence tracks which live connections have joined which rooms.
//
// The index is ephemeral and process-local. It answers "who is here" for
// fan-out and for presence lists; it is never an input to access decisions.
package presence

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Tyrowin/chatterbox/internal/chat"
)

type entry struct {
	identity chat.Identity
	rooms    map[string]struct{}
}

// Index maps connections to identities and joined rooms. It is safe for
// concurrent use; the session manager mutates it from one goroutine while
// health and admin handlers read it.
type Index struct {
	mu    sync.RWMutex
	conns map[string]*entry
	rooms map[string]map[string]struct{}
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]struct{}),
	}
}

// RecordConnect registers a connection. Reconnecting an existing id
// replaces its identity and keeps its rooms.
func (x *Index) RecordConnect(connID string, id chat.Identity) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if e, ok := x.conns[connID]; ok {
		e.identity = id
		return
	}
	x.conns[connID] = &entry{identity: id, rooms: make(map[string]struct{})}
}

// RecordJoin adds roomID to the connection's rooms. It returns false when
// the connection is unknown or already in the room.
func (x *Index) RecordJoin(connID, roomID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.conns[connID]
	if !ok {
		return false
	}
	if _, joined := e.rooms[roomID]; joined {
		return false
	}
	e.rooms[roomID] = struct{}{}

	members, ok := x.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		x.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return true
}

// RecordLeave removes roomID from the connection's rooms. It returns false
// when the connection had not joined the room.
func (x *Index) RecordLeave(connID, roomID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.leaveLocked(connID, roomID)
}

func (x *Index) leaveLocked(connID, roomID string) bool {
	e, ok := x.conns[connID]
	if !ok {
		return false
	}
	if _, joined := e.rooms[roomID]; !joined {
		return false
	}
	delete(e.rooms, roomID)

	if members, ok := x.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(x.rooms, roomID)
		}
	}
	return true
}

// RecordDisconnect removes the connection from every room it had joined
// and forgets it. It returns those rooms in sorted order.
func (x *Index) RecordDisconnect(connID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.conns[connID]
	if !ok {
		return nil
	}
	left := sortedKeys(e.rooms)
	for _, roomID := range left {
		x.leaveLocked(connID, roomID)
	}
	delete(x.conns, connID)
	return left
}

// ListActiveMembers returns the distinct identities with at least one
// connection in roomID, ordered by email then user id.
func (x *Index) ListActiveMembers(roomID string) []chat.Identity {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]chat.Identity, 0, len(x.rooms[roomID]))
	for connID := range x.rooms[roomID] {
		id := x.conns[connID].identity
		if _, dup := seen[id.UserID]; dup {
			continue
		}
		seen[id.UserID] = struct{}{}
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b chat.Identity) int {
		return cmp.Or(cmp.Compare(a.Email, b.Email), cmp.Compare(a.UserID, b.UserID))
	})
	return out
}

// Connections returns the ids of connections joined to roomID.
func (x *Index) Connections(roomID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.rooms[roomID])
}

// RoomsOf returns the rooms connID has joined.
func (x *Index) RoomsOf(connID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.conns[connID]
	if !ok {
		return nil
	}
	return sortedKeys(e.rooms)
}

// Joined reports whether connID is in roomID.
func (x *Index) Joined(connID, roomID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.conns[connID]
	if !ok {
		return false
	}
	_, joined := e.rooms[roomID]
	return joined
}

// Identity returns the identity recorded for connID.
func (x *Index) Identity(connID string) (chat.Identity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.conns[connID]
	if !ok {
		return chat.Identity{}, false
	}
	return e.identity, true
}

// ConnectionCount returns the number of live connections.
func (x *Index) ConnectionCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.conns)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
