// Package router maps rooms to their current members and fans events out to
// them. Authorization for access-controlled rooms is re-checked at join
// time against the room policy, atomically with the membership mutation.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/state"
	"github.com/google/uuid"
)

// Policy maps access-controlled room names to the role required to join
// them. Rooms absent from the map are open to any connection.
type Policy map[string]auth.Role

// PolicyFromConfig builds a Policy from the rooms.protected config map.
func PolicyFromConfig(protected map[string]string) (Policy, error) {
	policy := make(Policy, len(protected))
	for room, roleName := range protected {
		role, ok := auth.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("unknown role '%s' for protected room '%s'", roleName, room)
		}
		policy[room] = role
	}
	return policy, nil
}

var (
	errNotAuthenticated = errors.New("router: connection not authenticated")
	errForbidden        = errors.New("router: role not permitted for room")
)

type Router struct {
	logger *slog.Logger
	reg    state.Registry
	policy Policy
}

func NewRouter(logger *slog.Logger, reg state.Registry, policy Policy) *Router {
	return &Router{
		logger: logger.With(slog.String("component", "broadcast_router")),
		reg:    reg,
		policy: policy,
	}
}

// Join subscribes the connection to the room. For a protected room the
// connection's cached claim is checked under the registry lock, so the
// decision and the membership insert cannot interleave with a concurrent
// disconnect or broadcast. The returned error covers registry-level
// failures only (unknown connection); policy outcomes are in the result.
func (r *Router) Join(connID uuid.UUID, room string) (JoinResult, error) {
	err := r.reg.Join(connID, room, r.guard(room))
	switch {
	case err == nil:
		return joinOK(), nil
	case errors.Is(err, errNotAuthenticated):
		return joinDenied(DenyNotAuthenticated), nil
	case errors.Is(err, errForbidden):
		return joinDenied(DenyForbidden), nil
	default:
		return JoinResult{}, err
	}
}

func (r *Router) guard(room string) state.GuardFunc {
	requiredRole, protected := r.policy[room]
	if !protected {
		return nil
	}
	return func(conn *state.Connection) error {
		if conn.Auth != state.Authenticated || conn.Claim == nil {
			return errNotAuthenticated
		}
		// the claim was verified when presented; only its expiry is
		// re-checked here
		if conn.Claim.Expired(time.Now()) {
			return errForbidden
		}
		if conn.Claim.Role != requiredRole {
			return errForbidden
		}
		return nil
	}
}

func (r *Router) Leave(connID uuid.UUID, room string) error {
	return r.reg.Leave(connID, room)
}

// Members returns the ids of the room's current members.
func (r *Router) Members(room string) []uuid.UUID {
	conns := r.reg.Members(room)
	ids := make([]uuid.UUID, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	return ids
}

// Broadcast delivers the event to the snapshot of members taken at the
// moment of the call. Connections joining afterwards receive nothing from
// this call, and no member is delivered to twice. A failed send is logged,
// the member is closed and unregistered, and delivery continues with the
// rest. Returns the number of successful deliveries; an empty room is a
// valid no-op.
func (r *Router) Broadcast(room, eventType string, payload json.RawMessage) int {
	members := r.reg.Members(room)
	if len(members) == 0 {
		return 0
	}

	frame, err := json.Marshal(Message{
		Target:  room,
		Event:   eventType,
		Payload: payload,
	})
	if err != nil {
		r.logger.Error("Failed to marshal broadcast frame",
			slog.String("room", room),
			slog.String("event", eventType),
			slog.Any("error", err),
		)
		return 0
	}

	delivered := 0
	for _, member := range members {
		if err := member.Transport.Send(frame); err != nil {
			r.logger.Warn("Delivery failed, removing member",
				slog.String("room", room),
				slog.String("connID", member.ID.String()),
				slog.Any("error", err),
			)
			member.Transport.Close(err)
			if uErr := r.reg.Unregister(member.ID); uErr != nil {
				r.logger.Error("Failed to unregister member after delivery failure",
					slog.String("connID", member.ID.String()),
					slog.Any("error", uErr),
				)
			}
			continue
		}
		delivered++
	}

	r.logger.Debug("Broadcast dispatched",
		slog.String("room", room),
		slog.String("event", eventType),
		slog.Int("delivered", delivered),
	)
	return delivered
}
