package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

var (
	ActorSystem = &ActorRef{Kind: "system"}
)

// AgentActor attributes an event to a delivery agent.
func AgentActor(agentID string) *ActorRef {
	return &ActorRef{Kind: "agent", ID: agentID}
}

// OperatorActor attributes an event to an admin override.
func OperatorActor(id string) *ActorRef {
	return &ActorRef{Kind: "operator", ID: id}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
