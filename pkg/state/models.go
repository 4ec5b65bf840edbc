package state

import (
	"time"

	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/google/uuid"
)

// Transport is the send side of a live connection. The concrete
// implementation lives in pkg/transport; tests substitute fakes.
type Transport interface {
	ID() uuid.UUID
	Send(msg []byte) error
	Close(err error)
}

type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticated
)

// representation of a single live connection and its authentication state.
// Owned by the Registry; mutated only through Registry operations.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport
	Auth      AuthState
	Claim     *auth.Claim // nil until authenticated; never cleared after
	Rooms     map[string]struct{}
	CreatedAt time.Time
}

// Room is a named broadcast audience. Created lazily on first join, pruned
// when the last member leaves.
type Room struct {
	Name    string
	Members map[uuid.UUID]struct{}
}
