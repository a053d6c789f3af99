package board

// Action is one of the six fan-out variants the router can produce.
// Router.Handle returns a slice of these; Hub.Execute walks them and performs the
// actual socket enqueues. Keeping Action as data (rather than having the
// router call Hub directly) is what lets the router stay I/O-free and
// testable in isolation.
type Action interface {
	kind() string
}

// Unicast sends payload to exactly one connection.
type Unicast struct {
	To      *Connection
	Payload []byte
}

func (Unicast) kind() string { return "unicast" }

// BroadcastToRoom sends payload to every member of a room, optionally
// skipping the connection identified by ExcludeID.
type BroadcastToRoom struct {
	RoomID    string
	Payload   []byte
	ExcludeID string
}

func (BroadcastToRoom) kind() string { return "broadcastToRoom" }

// MulticastToUsernames sends payload to each currently-connected username
// in the list; usernames with no live connection are silently skipped.
type MulticastToUsernames struct {
	Usernames []string
	Payload   []byte
}

func (MulticastToUsernames) kind() string { return "multicast" }

// Global sends payload to every connection the hub knows about.
type Global struct {
	Payload []byte
}

func (Global) kind() string { return "global" }

// JoinSequence is a join attempt Hub still has to apply: Hub adds To to
// room RoomID's participants and, in the same room-locked critical
// section (Room.JoinAndDeliver), delivers JoinedPayload then the room's
// live replay log to To, then BroadcastPayload to the rest of the room,
// then every connection gets a personalized roomList refresh.
type JoinSequence struct {
	To               *Connection
	RoomID           string
	Username         string
	JoinedPayload    []byte
	BroadcastPayload []byte
}

func (JoinSequence) kind() string { return "joinSequence" }

// RoomListRefresh asks the hub to push a freshly-filtered roomList to
// every connected username. It carries no payload because the filtering
// is per-recipient.
type RoomListRefresh struct{}

func (RoomListRefresh) kind() string { return "roomListRefresh" }
