// Package realtime fans conversation events out to dashboards and other services
package realtime

import (
	"encoding/json"

	"handoff-engine/internal/core/domain"
)

// DefaultProducer names this service in event metadata
const DefaultProducer = "handoff-engine"

// Meta describes an event independently of its payload
type Meta struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Time          string  `json:"time"`
	Producer      string  `json:"producer"`
	CorrelationID *string `json:"correlation_id,omitempty"`
}

// Payload is the data part of every envelope
type Payload struct {
	ProjectID      string `json:"projectId"`
	ConversationID string `json:"conversationId,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

// Envelope is the wire form shared by all sinks
type Envelope struct {
	Meta Meta    `json:"meta"`
	Data Payload `json:"data"`
}

// NewEnvelope wraps a domain event
func NewEnvelope(event domain.Event, producer string) Envelope {
	if producer == "" {
		producer = DefaultProducer
	}
	env := Envelope{
		Meta: Meta{
			ID:       event.ID,
			Type:     string(event.Type),
			Time:     event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Producer: producer,
		},
		Data: Payload{
			ProjectID:      event.ProjectID,
			ConversationID: event.ConversationID,
			Payload:        event.Data,
		},
	}
	if event.CorrelationID != "" {
		cid := event.CorrelationID
		env.Meta.CorrelationID = &cid
	}
	return env
}

// RoutingKey is <projectId>.<event type>
func RoutingKey(event domain.Event) string {
	return event.ProjectID + "." + string(event.Type)
}

func encode(event domain.Event, producer string) ([]byte, error) {
	return json.Marshal(NewEnvelope(event, producer))
}
