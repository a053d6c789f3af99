package board

import (
	"sync"
	"time"
)

// maxReplayLog is the soft cap on a room's replay log: unbounded growth
// between clears is undesirable at scale, so the oldest entries fall off
// once the cap is hit. A joiner past the cap sees a truncated prefix
// rather than the full history — documented lossiness, not a bug.
const maxReplayLog = 2000

// maxChatHistory bounds each room's chat history.
const maxChatHistory = 100

// defaultMaxParticipants is the default room capacity.
const defaultMaxParticipants = 50

// Room holds the mutable state of one whiteboard. All mutations go
// through its methods, which take mu for the duration of the mutation.
// Fan-out enqueues to member connections while still holding this lock
// (see ForEachMember and JoinAndDeliver), which is what gives each room a
// total ordering guarantee across its members.
type Room struct {
	RoomID          string
	RoomName        string
	Creator         string
	CreatedAt       time.Time
	IsPublic        bool
	Password        string
	MaxParticipants int

	mu           sync.Mutex
	participants map[string]*Connection // username -> connection
	invitees     map[string]bool
	replayLog    [][]byte
	shapeIndex   map[string]ShapeData
	chatHistory  []ChatMessage
}

// NewRoom constructs an empty room. invitees is copied, not aliased.
func NewRoom(roomID, roomName, creator string, isPublic bool, password string, invitees []string) *Room {
	inv := make(map[string]bool, len(invitees))
	for _, u := range invitees {
		inv[u] = true
	}
	return &Room{
		RoomID:          roomID,
		RoomName:        roomName,
		Creator:         creator,
		CreatedAt:       time.Now(),
		IsPublic:        isPublic,
		Password:        password,
		MaxParticipants: defaultMaxParticipants,
		participants:    make(map[string]*Connection),
		invitees:        inv,
		shapeIndex:      make(map[string]ShapeData),
	}
}

// VisibleTo reports whether a room should appear in username's roomList:
// public rooms are visible to everyone; private rooms only to invitees
// and the creator.
func (r *Room) VisibleTo(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.IsPublic {
		return true
	}
	return r.invitees[username] || r.Creator == username
}

// EntryError enumerates the joinRoom precondition failures, in
// validation order.
type EntryError string

const (
	ErrRoomNotFound     EntryError = "Room not found"
	ErrNotInvited       EntryError = "You are not invited to this room"
	ErrIncorrectPassword EntryError = "Incorrect password"
	ErrRoomFull         EntryError = "Room is full"
)

// CheckEntry validates, but does not apply, a join attempt, in this
// order: existence (handled by the caller via registry lookup),
// invitation, password, capacity. Returns "" if the join would succeed.
func (r *Room) CheckEntry(username, password string) EntryError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsPublic && !r.invitees[username] && r.Creator != username {
		return ErrNotInvited
	}
	if r.Password != "" && password != r.Password {
		return ErrIncorrectPassword
	}
	if len(r.participants) >= r.MaxParticipants {
		return ErrRoomFull
	}
	return ""
}

// Join adds username's connection to participants. Callers must have
// already validated entry with CheckEntry under the same lock-free window;
// Join re-checks capacity to stay correct under concurrent joins.
func (r *Room) Join(username string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) >= r.MaxParticipants {
		return false
	}
	r.participants[username] = conn
	return true
}

// Leave removes username from participants.
func (r *Room) Leave(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, username)
}

// ParticipantCount returns the current member count.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// IsEmpty reports whether the room has no participants.
func (r *Room) IsEmpty() bool {
	return r.ParticipantCount() == 0
}

// ForEachMember calls fn for every current participant connection,
// holding the room lock for the full enumeration so a concurrent join or
// another broadcast can't interleave mid-fan-out and break per-room
// ordering.
func (r *Room) ForEachMember(fn func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.participants {
		fn(c)
	}
}

// JoinAndDeliver adds username's connection to participants (capacity
// permitting) and, in the same critical section, delivers joinedPayload
// then the room's current replay log to the joiner, then
// broadcastPayload to every other member. Running the whole sequence
// under one lock acquisition is what stops a concurrent broadcast from
// landing a live event in the joiner's queue ahead of the replay it
// depends on, and what keeps the joiner itself from receiving its own
// join broadcast. Returns false without mutating anything if the room
// is full.
func (r *Room) JoinAndDeliver(username string, conn *Connection, joinedPayload, broadcastPayload []byte, deliver func(*Connection, []byte)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) >= r.MaxParticipants {
		return false
	}
	r.participants[username] = conn

	deliver(conn, joinedPayload)
	for _, frame := range r.replayLog {
		deliver(conn, frame)
	}
	for _, c := range r.participants {
		if c.ID == conn.ID {
			continue
		}
		deliver(c, broadcastPayload)
	}
	return true
}

// AppendReplay appends a pre-encoded outbound envelope to the replay log,
// evicting the oldest entry once maxReplayLog is exceeded.
func (r *Room) AppendReplay(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replayLog = append(r.replayLog, payload)
	if len(r.replayLog) > maxReplayLog {
		r.replayLog = r.replayLog[len(r.replayLog)-maxReplayLog:]
	}
}

// ReplaySnapshot returns a copy of the replay log as it exists right now —
// the prefix a joiner must see before any live event.
func (r *Room) ReplaySnapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.replayLog))
	copy(out, r.replayLog)
	return out
}

// UpsertShape records or updates a shape's authoritative state in the
// shape index. It does not touch the replay log; callers append the wire
// envelope separately, keeping the conservative "append, don't collapse"
// replay policy centralized in the router.
func (r *Room) UpsertShape(shape ShapeData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapeIndex[shape.ID] = shape
}

// DeleteShape removes a shape from the index.
func (r *Room) DeleteShape(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shapeIndex, id)
}

// Shapes returns a snapshot of the shape index, used by save/introspection.
func (r *Room) Shapes() []ShapeData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShapeData, 0, len(r.shapeIndex))
	for _, s := range r.shapeIndex {
		out = append(out, s)
	}
	return out
}

// Clear truncates the replay log and shape index atomically. It is the
// only operation allowed to shrink the log.
func (r *Room) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replayLog = nil
	r.shapeIndex = make(map[string]ShapeData)
}

// AppendChat appends a message to the bounded chat history.
func (r *Room) AppendChat(msg ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatHistory = append(r.chatHistory, msg)
	if len(r.chatHistory) > maxChatHistory {
		r.chatHistory = r.chatHistory[len(r.chatHistory)-maxChatHistory:]
	}
}

// ChatHistory returns a copy of the bounded chat history.
func (r *Room) ChatHistory() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.chatHistory))
	copy(out, r.chatHistory)
	return out
}

// Summary returns the access-filtered RoomSummary for username, or the
// zero value with ok=false if the room shouldn't be visible to them.
func (r *Room) Summary(username string) (RoomSummary, bool) {
	if !r.VisibleTo(username) {
		return RoomSummary{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomSummary{
		RoomID:          r.RoomID,
		RoomName:        r.RoomName,
		Creator:         r.Creator,
		Participants:    len(r.participants),
		MaxParticipants: r.MaxParticipants,
		IsPublic:        r.IsPublic,
		HasPassword:     r.Password != "",
	}, true
}

// PublicSummary returns the RoomSummary regardless of membership, used for
// getRooms's public-only listing.
func (r *Room) PublicSummary() (RoomSummary, bool) {
	r.mu.Lock()
	isPublic := r.IsPublic
	r.mu.Unlock()
	if !isPublic {
		return RoomSummary{}, false
	}
	return r.Summary("") // public rooms are visible to the empty/anonymous username too
}

// Invitees returns a copy of the invited-usernames set.
func (r *Room) Invitees() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.invitees))
	for u := range r.invitees {
		out = append(out, u)
	}
	return out
}
