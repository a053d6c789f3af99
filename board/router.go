package board

import (
	"encoding/json"
	"time"
)

// Directory abstracts the "who is currently connected" lookups the router
// needs for multicast and active-user listing, without coupling the
// router to Hub's socket bookkeeping.
type Directory interface {
	ConnectionByUsername(username string) (*Connection, bool)
	Usernames() []string
}

// Router is the pure dispatch table: given a connection's state,
// a registry snapshot, and one inbound envelope, it returns the outbound
// actions to execute. It never touches a socket.
type Router struct {
	Registry *Registry
	Dir      Directory
}

func NewRouter(reg *Registry, dir Directory) *Router {
	return &Router{Registry: reg, Dir: dir}
}

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All envelope payloads are statically-typed structs or maps of
		// JSON-safe values; a marshal failure here would be a programmer
		// error, not a runtime condition to recover from.
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return b
}

func errorEnvelope(message string) []byte {
	return encode(map[string]string{"type": TypeError, "message": message})
}

// Handle dispatches one inbound envelope for conn and returns the
// resulting outbound actions. Precondition failures produce a single
// Unicast error action back to the sender; they never mutate state.
func (ro *Router) Handle(conn *Connection, env Envelope) []Action {
	switch env.Type {
	case TypeSetUsername:
		return ro.handleSetUsername(conn, env)
	case TypeGetRooms:
		return []Action{Unicast{To: conn, Payload: encode(map[string]interface{}{
			"type":  TypeRoomList,
			"rooms": ro.Registry.PublicRoomList(),
		})}}
	case TypeGetActiveUsers:
		return []Action{Unicast{To: conn, Payload: encode(map[string]interface{}{
			"type":  TypeActiveUsers,
			"users": ro.Dir.Usernames(),
		})}}
	case TypeCreateRoom:
		return ro.handleCreateRoom(conn, env)
	case TypeJoinRoom:
		return ro.handleJoinRoom(conn, env)
	case TypeLeaveRoom:
		return ro.handleLeaveRoom(conn)
	case TypeDraw:
		return ro.handleVerbatimBroadcast(conn, env, true)
	case TypeAddShape:
		return ro.handleAddShape(conn, env)
	case TypeUpdateShape:
		return ro.handleUpdateShape(conn, env)
	case TypeDeleteShape:
		return ro.handleDeleteShape(conn, env)
	case TypeClear:
		return ro.handleClear(conn)
	case TypeCursor:
		return ro.handleVerbatimBroadcast(conn, env, false)
	case TypeChatMessage:
		return ro.handleChatMessage(conn, env)
	case TypeGetChatHistory:
		return ro.handleGetChatHistory(conn)
	default:
		// Unknown types are logged by the caller and otherwise ignored:
		// no rejection, no state change.
		return nil
	}
}

func (ro *Router) requireRoom(conn *Connection) (*Room, bool) {
	roomID := conn.RoomID()
	if roomID == "" {
		return nil, false
	}
	room, ok := ro.Registry.Get(roomID)
	return room, ok
}

func (ro *Router) handleSetUsername(conn *Connection, env Envelope) []Action {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil || body.Username == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("username is required")}}
	}
	conn.SetUsername(body.Username)
	return []Action{Unicast{To: conn, Payload: encode(map[string]interface{}{
		"type":  TypeRoomList,
		"rooms": ro.Registry.RoomListFor(body.Username),
	})}}
}

func (ro *Router) handleCreateRoom(conn *Connection, env Envelope) []Action {
	username := conn.Username()
	if username == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("set a username first")}}
	}

	var body struct {
		RoomName     string   `json:"roomName"`
		IsPublic     *bool    `json:"isPublic,omitempty"`
		Password     string   `json:"password,omitempty"`
		InvitedUsers []string `json:"invitedUsers,omitempty"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil || body.RoomName == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("roomName is required")}}
	}
	isPublic := true
	if body.IsPublic != nil {
		isPublic = *body.IsPublic
	}

	room := ro.Registry.Create(body.RoomName, username, isPublic, body.Password, body.InvitedUsers)
	room.Join(username, conn)
	conn.SetRoomID(room.RoomID)

	actions := []Action{Unicast{To: conn, Payload: encode(map[string]interface{}{
		"type":     TypeRoomCreated,
		"roomId":   room.RoomID,
		"roomName": room.RoomName,
		"isPublic": room.IsPublic,
	})}}

	if isPublic {
		actions = append(actions, Global{Payload: encode(map[string]interface{}{
			"type":     TypeNewPublicRoom,
			"roomId":   room.RoomID,
			"roomName": room.RoomName,
			"creator":  username,
		})})
	} else {
		actions = append(actions, MulticastToUsernames{
			Usernames: room.Invitees(),
			Payload: encode(map[string]interface{}{
				"type":        TypeNewPrivateRoomInvite,
				"roomId":      room.RoomID,
				"roomName":    room.RoomName,
				"creator":     username,
				"hasPassword": room.Password != "",
			}),
		})
	}
	actions = append(actions, RoomListRefresh{})
	return actions
}

func (ro *Router) handleJoinRoom(conn *Connection, env Envelope) []Action {
	username := conn.Username()
	if username == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("set a username first")}}
	}

	var body struct {
		RoomID   string `json:"roomId"`
		Password string `json:"password,omitempty"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil || body.RoomID == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("roomId is required")}}
	}

	room, ok := ro.Registry.Get(body.RoomID)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope(string(ErrRoomNotFound))}}
	}
	if entryErr := room.CheckEntry(username, body.Password); entryErr != "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope(string(entryErr))}}
	}

	// The actual participant add and the joined/replay/broadcast delivery
	// happen together in Hub.Execute via Room.JoinAndDeliver, under the
	// room lock, so a concurrent broadcast can't land ahead of the
	// replay this joiner is about to receive. CheckEntry's capacity check
	// is advisory; JoinAndDeliver rechecks it atomically with the add.
	joinedPayload := encode(map[string]interface{}{
		"type":     TypeRoomJoined,
		"roomId":   room.RoomID,
		"roomName": room.RoomName,
	})
	broadcastPayload := encode(map[string]interface{}{
		"type":     TypeUserJoined,
		"username": username,
	})

	return []Action{
		JoinSequence{
			To:               conn,
			RoomID:           room.RoomID,
			Username:         username,
			JoinedPayload:    joinedPayload,
			BroadcastPayload: broadcastPayload,
		},
	}
}

func (ro *Router) handleLeaveRoom(conn *Connection) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	username := conn.Username()
	room.Leave(username)
	conn.SetRoomID("")

	return []Action{BroadcastToRoom{
		RoomID: room.RoomID,
		Payload: encode(map[string]interface{}{
			"type":         TypeUserLeft,
			"username":     username,
			"participants": room.ParticipantCount(),
		}),
		ExcludeID: conn.ID,
	}}
}

func (ro *Router) handleVerbatimBroadcast(conn *Connection, env Envelope, logIt bool) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	if logIt {
		room.AppendReplay(env.Raw)
	}
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: env.Raw, ExcludeID: conn.ID}}
}

func (ro *Router) handleAddShape(conn *Connection, env Envelope) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	shape, err := decodeShape(env.Raw)
	if err != nil {
		return nil
	}
	shape.Timestamp = time.Now().UnixMilli()
	room.UpsertShape(shape)
	room.AppendReplay(env.Raw)
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: env.Raw, ExcludeID: conn.ID}}
}

func (ro *Router) handleUpdateShape(conn *Connection, env Envelope) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	shape, err := decodeShape(env.Raw)
	if err != nil {
		return nil
	}
	room.UpsertShape(shape)
	// Append, don't collapse: the replay log keeps the stale version a
	// joiner may see before this one.
	room.AppendReplay(env.Raw)
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: env.Raw, ExcludeID: conn.ID}}
}

func (ro *Router) handleDeleteShape(conn *Connection, env Envelope) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil || body.ID == "" {
		return nil
	}
	room.DeleteShape(body.ID)
	room.AppendReplay(env.Raw)
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: env.Raw, ExcludeID: conn.ID}}
}

func (ro *Router) handleClear(conn *Connection) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	room.Clear()
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: encode(map[string]interface{}{
		"type":     TypeClear,
		"username": conn.Username(),
	})}}
}

func (ro *Router) handleChatMessage(conn *Connection, env Envelope) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	username := conn.Username()
	if username == "" {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("set a username first")}}
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil || body.Message == "" {
		return nil
	}
	msg := ChatMessage{
		RoomID:    room.RoomID,
		Username:  username,
		Text:      body.Message,
		Timestamp: time.Now().UnixMilli(),
		Kind:      ChatKindChat,
	}
	room.AppendChat(msg)
	return []Action{BroadcastToRoom{RoomID: room.RoomID, Payload: encode(map[string]interface{}{
		"type":      TypeChatMessage,
		"username":  msg.Username,
		"message":   msg.Text,
		"timestamp": msg.Timestamp,
	})}}
}

func (ro *Router) handleGetChatHistory(conn *Connection) []Action {
	room, ok := ro.requireRoom(conn)
	if !ok {
		return []Action{Unicast{To: conn, Payload: errorEnvelope("not in a room")}}
	}
	return []Action{Unicast{To: conn, Payload: encode(map[string]interface{}{
		"type":     TypeChatHistory,
		"messages": room.ChatHistory(),
	})}}
}

func decodeShape(raw json.RawMessage) (ShapeData, error) {
	var shape ShapeData
	err := json.Unmarshal(raw, &shape)
	return shape, err
}
