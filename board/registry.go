package board

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the thread-safe room directory. It never reuses a roomId
// once a room has been garbage collected.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Create allocates a fresh room with a server-assigned id and stores it.
func (reg *Registry) Create(name, creator string, isPublic bool, password string, invitees []string) *Room {
	room := NewRoom(uuid.New().String(), name, creator, isPublic, password, invitees)
	reg.mu.Lock()
	reg.rooms[room.RoomID] = room
	reg.mu.Unlock()
	return room
}

// Get looks up a room by id.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// GetByName looks up a room by its display name, used by the image
// upload endpoint which is keyed on name rather than id.
// Room names aren't guaranteed unique; this returns the first match.
func (reg *Registry) GetByName(name string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, r := range reg.rooms {
		if r.RoomName == name {
			return r, true
		}
	}
	return nil, false
}

// List returns a snapshot of all rooms currently registered.
func (reg *Registry) List() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Remove deletes a room by id.
func (reg *Registry) Remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, roomID)
}

// GCEmpty removes empty rooms, but never removes the last room standing,
// so there is always at least one room to join.
func (reg *Registry) GCEmpty() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.rooms) <= 1 {
		return
	}
	var empty []string
	for id, r := range reg.rooms {
		if r.IsEmpty() {
			empty = append(empty, id)
		}
	}
	for _, id := range empty {
		if len(reg.rooms) <= 1 {
			break
		}
		delete(reg.rooms, id)
	}
}

// RoomListFor returns the access-filtered RoomSummary list for username;
// private rooms never leak their existence to non-invitees.
func (reg *Registry) RoomListFor(username string) []RoomSummary {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if s, ok := r.Summary(username); ok {
			out = append(out, s)
		}
	}
	return out
}

// PublicRoomList returns only public rooms, for getRooms.
func (reg *Registry) PublicRoomList() []RoomSummary {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if s, ok := r.PublicSummary(); ok {
			out = append(out, s)
		}
	}
	return out
}
