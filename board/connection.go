package board

import (
	"log/slog"
	"net"
	"sync"

	"boardserver/wsframe"
)

// outboundQueueSize bounds each connection's write queue. A client slow
// enough to fill it gets dropped rather than allowed to back-pressure the
// room's writer.
const outboundQueueSize = 256

// Connection is one client session: a websocket-upgraded TCP socket, a
// bounded outbound queue drained by a single writer goroutine, and the
// membership/identity state the router consults. Connection never writes
// conn directly from the router or fan-out path; everything goes through
// Enqueue so per-connection ordering holds.
type Connection struct {
	ID   string
	conn net.Conn

	mu       sync.Mutex
	username string
	roomID   string
	closed   bool

	send chan []byte
	done chan struct{}
}

// NewConnection wraps an accepted, already-upgraded socket.
func NewConnection(id string, conn net.Conn) *Connection {
	return &Connection{
		ID:   id,
		conn: conn,
		send: make(chan []byte, outboundQueueSize),
		done: make(chan struct{}),
	}
}

// Username returns the connection's assigned username, or "" if setUsername
// hasn't run yet.
func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SetUsername records the username assigned by the setUsername event.
func (c *Connection) SetUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

// RoomID returns the room this connection currently belongs to, or "" if
// it isn't in one.
func (c *Connection) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// SetRoomID records (or clears, with "") the connection's current room.
// A Connection belongs to at most one room at a time.
func (c *Connection) SetRoomID(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// Enqueue appends a pre-encoded outbound envelope to the connection's write
// queue. It never blocks: on overflow it reports failure so the caller can
// tear the connection down, matching the fail-fast backpressure policy.
func (c *Connection) Enqueue(payload []byte) (ok bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// MarkClosed flips the closed flag so further Enqueue calls fail fast. It
// does not close the socket; the writer/reader goroutines own that.
func (c *Connection) MarkClosed() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		close(c.done)
	}
}

// IsClosed reports whether MarkClosed has already run.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WritePump drains the outbound queue and serializes frames onto the
// socket. It is the single writer for this connection, which is what
// guarantees per-connection ordering. It returns when the
// connection is marked closed or a write fails.
func (c *Connection) WritePump(log *slog.Logger) {
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if _, err := c.conn.Write(wsframe.Encode(payload)); err != nil {
				log.Debug("write failed, closing connection", "connId", c.ID, "error", err)
				c.MarkClosed()
				c.conn.Close()
				return
			}
		case <-c.done:
			// Drain whatever's left without blocking, then exit.
			for {
				select {
				case payload, ok := <-c.send:
					if !ok {
						return
					}
					c.conn.Write(wsframe.Encode(payload))
				default:
					return
				}
			}
		}
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.MarkClosed()
	return c.conn.Close()
}
