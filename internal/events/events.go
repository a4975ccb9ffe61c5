// Package events publishes navigation milestones to a message broker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// Type names a navigation event. It doubles as the AMQP routing key.
type Type string

const (
	TypeOffRoute Type = "navigation.offroute"
	TypeArrived  Type = "navigation.arrived"
)

// Event is the published payload
type Event struct {
	ID                      string          `json:"id"`
	Type                    Type            `json:"type"`
	SessionID               string          `json:"session_id"`
	Position                *geo.Coordinate `json:"position,omitempty"`
	StepIndex               int             `json:"step_index"`
	DistanceFromRouteMeters float64         `json:"distance_from_route_meters"`
	At                      time.Time       `json:"at"`
}

// NewEvent builds an event from the tracking state that triggered it
func NewEvent(typ Type, sessionID string, state tracking.TrackingState) Event {
	at := state.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:                      uuid.NewString(),
		Type:                    typ,
		SessionID:               sessionID,
		Position:                state.LastPosition,
		StepIndex:               state.CurrentStepIndex,
		DistanceFromRouteMeters: state.DistanceFromRouteMeters,
		At:                      at.UTC(),
	}
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
