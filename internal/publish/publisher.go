// Package publish is the facade business-logic handlers use to emit domain
// events. Handlers see rooms and event types, never connections.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Broadcaster is the slice of the router the publisher needs.
type Broadcaster interface {
	Broadcast(room, eventType string, payload json.RawMessage) int
}

type Publisher struct {
	logger *slog.Logger
	router Broadcaster
}

func NewPublisher(logger *slog.Logger, router Broadcaster) *Publisher {
	return &Publisher{
		logger: logger.With(slog.String("component", "event_publisher")),
		router: router,
	}
}

// Publish emits a domain event to every current member of the room. The
// caller is never blocked on delivery completion: sends behind Broadcast
// are buffered-channel pushes. Publishing to a room with zero members is a
// valid no-op. The only error surfaced here is a payload that cannot be
// serialized.
func (p *Publisher) Publish(room, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for event '%s': %w", eventType, err)
	}

	delivered := p.router.Broadcast(room, eventType, raw)
	p.logger.Debug("Event published",
		slog.String("room", room),
		slog.String("event", eventType),
		slog.Int("delivered", delivered),
	)
	return nil
}
