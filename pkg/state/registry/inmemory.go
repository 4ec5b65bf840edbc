package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/state"
	"github.com/google/uuid"
)

// InMemoryRegistry tracks every live connection and the rooms it belongs to.
// A single mutex guards the combined connection↔room structure; it is held
// only for the duration of a state update, never across a transport send.
type InMemoryRegistry struct {
	conns map[uuid.UUID]*state.Connection
	rooms map[string]*state.Room

	mu sync.Mutex

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:  make(map[uuid.UUID]*state.Connection),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "registry_inmemory")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (r *InMemoryRegistry) Register(t state.Transport, ipAddr string) (*state.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := t.ID()
	if _, exists := r.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	conn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: t,
		Auth:      state.Unauthenticated,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	r.conns[connID] = conn
	r.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return conn, nil
}

func (r *InMemoryRegistry) SetAuthenticated(connID uuid.UUID, claim *auth.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return errors.New("cannot authenticate unknown connection")
	}
	if conn.Auth == state.Authenticated {
		return errors.New("connection is already authenticated")
	}
	conn.Auth = state.Authenticated
	conn.Claim = claim
	r.logger.Debug("Connection authenticated",
		slog.String("connID", connID.String()),
		slog.String("subject", claim.Subject),
		slog.String("role", string(claim.Role)),
	)
	return nil
}

func (r *InMemoryRegistry) Unregister(connID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		// already unregistered; disconnect signals can race with cleanup
		return nil
	}
	delete(r.conns, connID)

	// cascade: drop the connection from every room it belonged to
	for roomName := range conn.Rooms {
		room, ok := r.rooms[roomName]
		if !ok {
			r.logger.Error("Registry inconsistency: connection references missing room",
				slog.String("connID", connID.String()),
				slog.String("room", roomName),
			)
			continue
		}
		delete(room.Members, connID)
		r.pruneLocked(room)
	}

	r.logger.Debug("Connection unregistered", slog.String("connID", connID.String()))
	return nil
}

func (r *InMemoryRegistry) Get(connID uuid.UUID) (*state.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

func (r *InMemoryRegistry) Join(connID uuid.UUID, roomName string, guard state.GuardFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}

	if guard != nil {
		if err := guard(conn); err != nil {
			return err
		}
	}

	// idempotent re-join
	if _, member := conn.Rooms[roomName]; member {
		return nil
	}

	room, exists := r.rooms[roomName]
	if !exists {
		room = &state.Room{
			Name:    roomName,
			Members: make(map[uuid.UUID]struct{}),
		}
		r.rooms[roomName] = room
	}

	conn.Rooms[roomName] = struct{}{}
	room.Members[connID] = struct{}{}

	r.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("room", roomName),
	)
	return nil
}

func (r *InMemoryRegistry) Leave(connID uuid.UUID, roomName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil // connection already gone, nothing to leave
	}
	room, ok := r.rooms[roomName]
	if !ok {
		delete(conn.Rooms, roomName)
		return nil
	}

	delete(conn.Rooms, roomName)
	delete(room.Members, connID)
	r.pruneLocked(room)

	r.logger.Debug("Connection left room",
		slog.String("connID", connID.String()),
		slog.String("room", roomName),
	)
	return nil
}

// Members resolves the room's member set to live connections. A member id
// without a registry entry violates the bipartite invariant; it is pruned
// here rather than delivered to.
func (r *InMemoryRegistry) Members(roomName string) []*state.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomName]
	if !ok {
		return nil
	}

	members := make([]*state.Connection, 0, len(room.Members))
	for connID := range room.Members {
		conn, ok := r.conns[connID]
		if !ok {
			r.logger.Error("Registry inconsistency: room references missing connection",
				slog.String("room", roomName),
				slog.String("connID", connID.String()),
			)
			delete(room.Members, connID)
			continue
		}
		members = append(members, conn)
	}
	r.pruneLocked(room)
	return members
}

func (r *InMemoryRegistry) FindRoom(roomName string) (*state.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomName]
	return room, ok
}

func (r *InMemoryRegistry) CountByIP(ipAddr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, conn := range r.conns {
		if conn.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (r *InMemoryRegistry) All() []*state.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*state.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// pruneLocked removes the room if it has no members left. Caller holds mu.
func (r *InMemoryRegistry) pruneLocked(room *state.Room) {
	if len(room.Members) == 0 {
		delete(r.rooms, room.Name)
		r.logger.Debug("Removed empty room", slog.String("room", room.Name))
	}
}
