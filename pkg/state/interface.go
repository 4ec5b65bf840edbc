package state

import (
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/google/uuid"
)

// GuardFunc is evaluated under the Registry's lock during Join, so an
// authorization decision and the membership mutation it gates are atomic
// with respect to every other Registry operation. Returning a non-nil error
// aborts the join and is passed through to the caller.
type GuardFunc func(conn *Connection) error

type Registry interface {
	// --- Connection Lifecycle ---
	Register(t Transport, ipAddr string) (*Connection, error)
	// SetAuthenticated caches a verified claim on the connection.
	// Authentication is sticky: a second call on the same connection fails.
	SetAuthenticated(connID uuid.UUID, claim *auth.Claim) error
	// Unregister is idempotent and cascades: the connection is removed from
	// every room it belonged to before the call returns.
	Unregister(connID uuid.UUID) error
	Get(connID uuid.UUID) (*Connection, bool)

	// --- Room Membership ---
	// Join adds the connection to the room, creating the room if needed.
	// Re-joining a room is a no-op. The guard, if non-nil, runs first.
	Join(connID uuid.UUID, room string, guard GuardFunc) error
	Leave(connID uuid.UUID, room string) error
	// Members returns a point-in-time snapshot of the room's membership.
	Members(room string) []*Connection
	FindRoom(room string) (*Room, bool)

	// --- Housekeeping ---
	CountByIP(ipAddr string) int
	All() []*Connection
}
