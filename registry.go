package main

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// roomCodeLength gives a space of 36^6 codes; the registry still checks for
// collisions and regenerates on a hit.
const roomCodeLength = 6

// Registry maps room ids and human-shareable room codes to rooms, and each
// live connection to the room it currently belongs to. It is the only
// structure shared between the gateway loop and plain HTTP handlers, so it
// carries the lock the rooms themselves do not.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room  // room id → room
	codes map[string]string // upper-cased room code → room id
	conns map[string]string // connection id → room id
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		codes: make(map[string]string),
		conns: make(map[string]string),
	}
}

// newRoomCode generates a crypto-random 6-character alphanumeric code.
// Assumes r.mu is held by the caller, which retries on collision.
func (r *Registry) newRoomCodeLocked() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	for {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := r.codes[code]; !exists {
			return code
		}
	}
}

// createRoom allocates a room with a unique internal id and room code and
// indexes it by both.
func (r *Registry) createRoom(cfg *Config, size int) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	code := r.newRoomCodeLocked()

	room := newRoom(cfg, id, code, size)
	r.rooms[id] = room
	r.codes[code] = id

	return room
}

func (r *Registry) room(id string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[id]
}

// findByCode looks a room up by its shareable code, case-insensitively.
func (r *Registry) findByCode(code string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.codes[strings.ToUpper(code)]
	if !exists {
		return nil
	}

	return r.rooms[id]
}

// destroy removes both index entries for a room. Connections still bound to
// it are left for the gateway to unbind as they disconnect or rebind.
func (r *Registry) destroy(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomID]
	if !exists {
		return
	}

	delete(r.rooms, roomID)
	delete(r.codes, room.code)
}

// bind associates a connection with a room so move intents need not carry
// room identity.
func (r *Registry) bind(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[connID] = roomID
}

func (r *Registry) unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, connID)
}

// roomFor resolves the room a connection is currently bound to, or nil.
func (r *Registry) roomFor(connID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.conns[connID]
	if !exists {
		return nil
	}

	return r.rooms[id]
}

// counts reports live room and bound-player totals for the status probe.
func (r *Registry) counts() (rooms, players int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms), len(r.conns)
}

// idleRooms returns the ids of rooms with no activity since the cutoff.
// Idle checks read room state, so this must only be called from the
// gateway loop.
func (r *Registry) idleRooms(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, room := range r.rooms {
		if room.idle(cutoff) {
			ids = append(ids, id)
		}
	}

	return ids
}
