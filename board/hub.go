package board

import (
	"log/slog"
	"sync"
)

// Hub owns the live connection bookkeeping and executes the Actions the
// Router produces. Rather than a single goroutine draining a
// register/unregister/broadcast channel trio, Hub is a plain
// mutex-guarded struct whose methods are called directly from each
// connection's own reader goroutine — the room-level and
// connection-level locking already gives the ordering guarantees a
// central actor loop would otherwise exist to provide.
type Hub struct {
	Registry *Registry
	Router   *Router
	log      *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*Connection
	byName map[string]*Connection
}

// NewHub wires a fresh Registry and Router together with empty connection
// tables. The Hub satisfies Directory for its own Router.
func NewHub(log *slog.Logger) *Hub {
	h := &Hub{
		Registry: NewRegistry(),
		log:      log,
		byID:     make(map[string]*Connection),
		byName:   make(map[string]*Connection),
	}
	h.Router = NewRouter(h.Registry, h)
	return h
}

// ConnectionByUsername implements Directory.
func (h *Hub) ConnectionByUsername(username string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byName[username]
	return c, ok
}

// Usernames implements Directory.
func (h *Hub) Usernames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byName))
	for u := range h.byName {
		out = append(out, u)
	}
	return out
}

// Register adds a freshly-accepted connection to the hub's id table. It
// has no username yet — that comes later via setUsername, at which point
// rename moves it into the name table too.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.byID[conn.ID] = conn
	h.mu.Unlock()
}

// rename updates the username->connection table, overwriting whatever
// connection previously held that username. The protocol doesn't forbid
// two connections claiming the same name in sequence; last writer wins.
func (h *Hub) rename(conn *Connection, oldName, newName string) {
	h.mu.Lock()
	if oldName != "" && h.byName[oldName] == conn {
		delete(h.byName, oldName)
	}
	if newName != "" {
		h.byName[newName] = conn
	}
	h.mu.Unlock()
}

// Unregister removes conn from both tables and, if it was a member of a
// room, removes that membership and tells the rest of the room it left.
func (h *Hub) Unregister(conn *Connection) {
	username := conn.Username()
	roomID := conn.RoomID()

	h.mu.Lock()
	delete(h.byID, conn.ID)
	if username != "" && h.byName[username] == conn {
		delete(h.byName, username)
	}
	h.mu.Unlock()

	if roomID == "" || username == "" {
		return
	}
	room, ok := h.Registry.Get(roomID)
	if !ok {
		return
	}
	room.Leave(username)
	h.Execute([]Action{BroadcastToRoom{
		RoomID: roomID,
		Payload: encode(map[string]interface{}{
			"type":         TypeUserLeft,
			"username":     username,
			"participants": room.ParticipantCount(),
		}),
	}})
	h.Registry.GCEmpty()
}

// Dispatch decodes one inbound frame payload for conn, routes it, and
// executes the resulting actions. It is the single entry point each
// connection's reader goroutine calls per frame.
func (h *Hub) Dispatch(conn *Connection, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		h.log.Debug("dropping malformed envelope", "connId", conn.ID, "error", err)
		return
	}

	if env.Type == TypeSetUsername {
		oldName := conn.Username()
		actions := h.Router.Handle(conn, env)
		h.rename(conn, oldName, conn.Username())
		h.Execute(actions)
		return
	}

	actions := h.Router.Handle(conn, env)
	if actions == nil {
		h.log.Debug("ignoring envelope", "connId", conn.ID, "type", env.Type)
	}
	h.Execute(actions)
}

// Execute walks a slice of Actions and performs the corresponding socket
// enqueues. It is the only place in the board package that touches
// Connection.Enqueue outside of the router's own return values, keeping
// the router itself free of direct I/O.
func (h *Hub) Execute(actions []Action) {
	for _, a := range actions {
		switch act := a.(type) {
		case Unicast:
			h.deliver(act.To, act.Payload)
		case BroadcastToRoom:
			h.broadcastToRoom(act.RoomID, act.Payload, act.ExcludeID)
		case MulticastToUsernames:
			for _, u := range act.Usernames {
				if c, ok := h.ConnectionByUsername(u); ok {
					h.deliver(c, act.Payload)
				}
			}
		case Global:
			h.mu.RLock()
			targets := make([]*Connection, 0, len(h.byID))
			for _, c := range h.byID {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				h.deliver(c, act.Payload)
			}
		case JoinSequence:
			room, ok := h.Registry.Get(act.RoomID)
			if !ok {
				h.deliver(act.To, errorEnvelope(string(ErrRoomNotFound)))
				continue
			}
			if !room.JoinAndDeliver(act.Username, act.To, act.JoinedPayload, act.BroadcastPayload, h.deliver) {
				h.deliver(act.To, errorEnvelope(string(ErrRoomFull)))
				continue
			}
			act.To.SetRoomID(act.RoomID)
			h.refreshRoomLists()
		case RoomListRefresh:
			h.refreshRoomLists()
		default:
			h.log.Warn("unknown action kind, ignoring", "kind", act.kind())
		}
	}
}

// broadcastToRoom enqueues payload to every member of roomID except the
// connection identified by excludeID (pass "" to exclude no one).
// ForEachMember holds the room's own lock across the whole enumerate and
// enqueue, so this can't interleave with a concurrent join's delivery
// sequence or another broadcast and break per-room ordering.
func (h *Hub) broadcastToRoom(roomID string, payload []byte, excludeID string) {
	room, ok := h.Registry.Get(roomID)
	if !ok {
		return
	}
	room.ForEachMember(func(c *Connection) {
		if c.ID == excludeID {
			return
		}
		h.deliver(c, payload)
	})
}

// refreshRoomLists pushes a freshly per-recipient-filtered roomList to
// every connection that has claimed a username. Connections with no
// username yet haven't asked for a room list and are skipped.
func (h *Hub) refreshRoomLists() {
	h.mu.RLock()
	recipients := make(map[string]*Connection, len(h.byName))
	for u, c := range h.byName {
		recipients[u] = c
	}
	h.mu.RUnlock()

	for username, c := range recipients {
		h.deliver(c, encode(map[string]interface{}{
			"type":  TypeRoomList,
			"rooms": h.Registry.RoomListFor(username),
		}))
	}
}

// deliver enqueues payload onto conn's write queue, tearing the connection
// down on overflow per the fail-fast backpressure policy.
func (h *Hub) deliver(conn *Connection, payload []byte) {
	if conn == nil {
		return
	}
	if !conn.Enqueue(payload) {
		h.log.Warn("outbound queue full, dropping connection", "connId", conn.ID)
		conn.Close()
	}
}
