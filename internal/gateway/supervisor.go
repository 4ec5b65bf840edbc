// Package gateway supervises connection admission, room joins and
// disconnect cleanup. Per connection the lifecycle is
// Connecting -> Unauthenticated -> Authenticated -> Closed: admission is
// unconditional, authentication happens on a join request carrying a token
// and is sticky for the life of the connection, and any state can move to
// Closed on a disconnect signal.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/boltbuttar/campusgate/internal/router"
	"github.com/boltbuttar/campusgate/pkg/auth"
	"github.com/boltbuttar/campusgate/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Client-facing event names.
const (
	EventJoinRoom   = "joinRoom"
	EventLeaveRoom  = "leaveRoom"
	EventJoinResult = "joinResult"
)

// joinAck is the payload of a joinResult frame.
type joinAck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type Supervisor struct {
	logger   *slog.Logger
	reg      state.Registry
	router   *router.Router
	verifier *auth.Verifier
}

func NewSupervisor(logger *slog.Logger, reg state.Registry, rt *router.Router, verifier *auth.Verifier) *Supervisor {
	return &Supervisor{
		logger:   logger.With(slog.String("component", "gateway_supervisor")),
		reg:      reg,
		router:   rt,
		verifier: verifier,
	}
}

// HandleOpen admits a freshly upgraded connection. Admission is
// unconditional; every connection starts unauthenticated.
func (s *Supervisor) HandleOpen(t state.Transport, ipAddr string) (*state.Connection, error) {
	return s.reg.Register(t, ipAddr)
}

// HandleClose runs the registry cleanup for a closed connection. It is safe
// to call more than once; disconnect signals race with explicit removal.
func (s *Supervisor) HandleClose(connID uuid.UUID, err error) {
	if uErr := s.reg.Unregister(connID); uErr != nil {
		s.logger.Error("Failed to unregister closed connection",
			slog.String("connID", connID.String()),
			slog.Any("error", uErr),
		)
	}
}

// HandleMessage dispatches one client frame.
func (s *Supervisor) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg router.Message
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		s.logger.Warn("Failed to unmarshal client message",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}

	switch clientMsg.Event {
	case EventJoinRoom:
		s.handleJoin(connID, &clientMsg)
	case EventLeaveRoom:
		s.handleLeave(connID, &clientMsg)
	default:
		s.logger.Warn("Received unknown event",
			slog.String("event", clientMsg.Event),
			slog.String("connID", connID.String()),
		)
	}
}

func (s *Supervisor) handleJoin(connID uuid.UUID, msg *router.Message) {
	room := msg.Target
	if room == "" {
		room = gjson.GetBytes(msg.Payload, "room").String()
	}
	if room == "" {
		s.logger.Warn("Join request without a room", slog.String("connID", connID.String()))
		return
	}

	conn, ok := s.reg.Get(connID)
	if !ok {
		// raced a disconnect; nothing to ack
		return
	}

	// An unauthenticated connection may present a token with its join.
	// Tokens from an already authenticated connection are ignored:
	// authentication is sticky, re-authentication needs a new connection.
	if token := gjson.GetBytes(msg.Payload, "token").String(); token != "" && conn.Auth != state.Authenticated {
		claim, err := s.verifier.Verify(token)
		if err != nil {
			s.logger.Warn("Token rejected during join",
				slog.String("connID", connID.String()),
				slog.String("room", room),
				slog.Any("error", err),
			)
			// the connection stays open and unauthenticated
			s.sendAck(conn, room, joinAck{OK: false, Reason: rejectionReason(err)})
			return
		}
		if err := s.reg.SetAuthenticated(connID, claim); err != nil {
			s.logger.Error("Failed to cache claim on connection",
				slog.String("connID", connID.String()),
				slog.Any("error", err),
			)
			return
		}
	}

	result, err := s.router.Join(connID, room)
	if err != nil {
		s.logger.Warn("Join failed",
			slog.String("connID", connID.String()),
			slog.String("room", room),
			slog.Any("error", err),
		)
		return
	}

	ack := joinAck{OK: result.OK, Reason: string(result.Reason)}
	s.sendAck(conn, room, ack)
}

func (s *Supervisor) handleLeave(connID uuid.UUID, msg *router.Message) {
	room := msg.Target
	if room == "" {
		room = gjson.GetBytes(msg.Payload, "room").String()
	}
	if room == "" {
		return
	}
	if err := s.router.Leave(connID, room); err != nil {
		s.logger.Warn("Leave failed",
			slog.String("connID", connID.String()),
			slog.String("room", room),
			slog.Any("error", err),
		)
	}
}

func (s *Supervisor) sendAck(conn *state.Connection, room string, ack joinAck) {
	payload, err := json.Marshal(ack)
	if err != nil {
		s.logger.Error("Failed to marshal join ack", slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(router.Message{
		Target:  room,
		Event:   EventJoinResult,
		Payload: payload,
	})
	if err != nil {
		s.logger.Error("Failed to marshal join ack frame", slog.Any("error", err))
		return
	}
	if err := conn.Transport.Send(frame); err != nil {
		s.logger.Warn("Failed to deliver join ack",
			slog.String("connID", conn.ID.String()),
			slog.Any("error", err),
		)
	}
}

// rejectionReason maps a verifier error onto the reason string surfaced to
// the joining client.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "signatureInvalid"
	default:
		return "malformed"
	}
}
