package hub

import (
	"sync"
	"sync/atomic"

	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/models"
)

// ConnState tracks where a connection is in its lifecycle.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateJoined
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// socket is the slice of a websocket connection the hub needs. Satisfied by
// *websocket.Conn; tests substitute fakes.
type socket interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Envelope is one outbound event on the wire.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Connection is one live, authenticated client. A connection only appears
// in room membership after authentication succeeds.
type Connection struct {
	ID        string
	Principal models.Principal

	sock  socket
	hub   *Hub
	state atomic.Int32

	mu     sync.Mutex // guards send against close
	send   chan Envelope
	closed bool
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Emit queues one event for this connection only. Non-blocking: if the
// client cannot keep up, the event is dropped with a warning. Emitting to a
// connection that already shut down is a no-op, never a panic; the read
// loop may still be dispatching a frame when the write side tears down.
func (c *Connection) Emit(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- Envelope{Event: event, Payload: payload}:
	default:
		logrus.WithFields(logrus.Fields{
			"conn_id": c.ID,
			"user_id": c.Principal.ID,
			"event":   event,
		}).Warn("Send queue full, dropping event.")
	}
}

// writePump drains the send queue onto the socket. One goroutine per
// connection keeps delivery ordered per (publisher, subscriber) pair. A
// write failure tears the connection down.
func (c *Connection) writePump() {
	for env := range c.send {
		if err := c.sock.WriteJSON(env); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"conn_id": c.ID,
				"user_id": c.Principal.ID,
			}).Info("Write failed, disconnecting client.")
			c.hub.Disconnect(c)
			// Keep draining so pending sends never block; writes will
			// keep failing and that is fine.
		}
	}
	c.sock.Close()
}

func (c *Connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.setState(StateDisconnected)
	close(c.send)
}
