// Package hub is the realtime fan-out core: it authenticates connections,
// tracks room membership and delivers events to every subscriber of a room.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/models"
)

// ErrAuth marks a failed connection handshake. It is the only error that
// terminates a connection outright.
var ErrAuth = errors.New("authentication failed")

// Identity verifies a bearer credential into a principal. Backed by the JWT
// middleware in production.
type Identity interface {
	Verify(token string) (models.Principal, error)
}

// sendQueueSize bounds each connection's outbound buffer.
const sendQueueSize = 64

// Hub owns all live connections and their room memberships. Create one per
// process (or per test) with NewHub and run it between Start and Stop;
// there is deliberately no package-level instance.
type Hub struct {
	identity Identity
	svc      VisitService

	mu      sync.RWMutex
	rooms   map[string]map[*Connection]bool
	conns   map[string]*Connection
	byUser  map[uint]map[*Connection]bool
	running bool

	now func() time.Time
}

// NewHub creates a hub that authenticates against the given identity
// collaborator.
func NewHub(identity Identity) *Hub {
	return &Hub{
		identity: identity,
		rooms:    make(map[string]map[*Connection]bool),
		conns:    make(map[string]*Connection),
		byUser:   make(map[uint]map[*Connection]bool),
		now:      time.Now,
	}
}

// BindService attaches the visit service used by inbound message dispatch.
// Bound after construction because the service broadcasts through the hub.
func (h *Hub) BindService(svc VisitService) {
	h.svc = svc
}

// Start marks the hub live. Registering on a stopped hub fails.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	logrus.Info("Realtime hub started.")
}

// Stop disconnects every client and clears all membership.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.rooms = make(map[string]map[*Connection]bool)
	h.conns = make(map[string]*Connection)
	h.byUser = make(map[uint]map[*Connection]bool)
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	logrus.Info("Realtime hub stopped.")
}

// Register authenticates a raw socket and, on success, admits it: the
// connection auto-joins its personal room and, when the principal has a
// department, that department's room. On failure the socket is closed
// before any membership side effect.
func (h *Hub) Register(sock socket, token string) (*Connection, error) {
	c := &Connection{
		ID:   uuid.NewString(),
		sock: sock,
		send: make(chan Envelope, sendQueueSize),
		hub:  h,
	}
	c.setState(StateAuthenticating)

	principal, err := h.identity.Verify(token)
	if err != nil {
		c.setState(StateDisconnected)
		sock.Close()
		logrus.WithError(err).Warn("WebSocket authentication failed, terminating connection.")
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	c.Principal = principal
	c.setState(StateJoined)

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		c.setState(StateDisconnected)
		sock.Close()
		return nil, errors.New("hub is not running")
	}
	h.conns[c.ID] = c
	if h.byUser[principal.ID] == nil {
		h.byUser[principal.ID] = make(map[*Connection]bool)
	}
	h.byUser[principal.ID][c] = true
	h.joinLocked(c, PersonalRoom(principal.Role, principal.ID))
	if principal.Department != "" {
		h.joinLocked(c, DepartmentRoom(principal.Department))
	}
	h.mu.Unlock()

	go c.writePump()
	c.setState(StateActive)

	logrus.WithFields(logrus.Fields{
		"conn_id":    c.ID,
		"user_id":    principal.ID,
		"role":       principal.Role,
		"department": principal.Department,
	}).Info("Client registered with hub.")
	return c, nil
}

// Join adds the connection to a room, creating the room lazily.
func (h *Hub) Join(c *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.State() == StateDisconnected {
		return
	}
	h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *Connection, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Connection]bool)
	}
	h.rooms[room][c] = true
}

// Leave removes the connection from a room; empty rooms are dropped.
func (h *Hub) Leave(c *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Connection, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast queues an event for every member of a room, optionally
// excluding the sender. Enqueueing never blocks the caller.
func (h *Hub) Broadcast(room, event string, payload interface{}, exclude *Connection) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c == exclude {
			continue
		}
		c.Emit(event, payload)
	}
}

// Direct queues an event for every live connection of one user.
func (h *Hub) Direct(userID uint, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		c.Emit(event, payload)
	}
}

// broadcastAll fans an event out to every live connection.
func (h *Hub) broadcastAll(event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.Emit(event, payload)
	}
}

// Disconnect removes the connection from every room it joined and closes
// it. Visit state is never touched here. The departure notice goes to every
// live connection, not just shared rooms; see TestDisconnectBroadcastIsGlobal.
func (h *Hub) Disconnect(c *Connection) {
	h.mu.Lock()
	if _, known := h.conns[c.ID]; !known {
		h.mu.Unlock()
		c.shutdown()
		return
	}
	delete(h.conns, c.ID)
	if set, ok := h.byUser[c.Principal.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.Principal.ID)
		}
	}
	for room := range h.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	c.shutdown()
	logrus.WithFields(logrus.Fields{
		"conn_id": c.ID,
		"user_id": c.Principal.ID,
	}).Info("Client disconnected, membership cleaned up.")

	h.broadcastAll("user_disconnected", map[string]interface{}{
		"userId":    c.Principal.ID,
		"userName":  c.Principal.Name,
		"userRole":  c.Principal.Role,
		"timestamp": h.now().UTC(),
	})
}

// RoomSize reports the current membership count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// InRoom reports whether the connection is currently a member of the room.
func (h *Hub) InRoom(c *Connection, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][c]
}
