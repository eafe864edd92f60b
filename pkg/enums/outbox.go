package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateAgent OutboxAggregateType = "agent"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateAgent,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names durable allocation events.
type OutboxEventType string

const (
	EventOrderAgentAssigned       OutboxEventType = "order_agent_assigned"
	EventOrderAllocationEscalated OutboxEventType = "order_allocation_escalated"
	EventOrderAgentReleased       OutboxEventType = "order_agent_released"
	EventOrderDelivered           OutboxEventType = "order_delivered"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderAgentAssigned,
	EventOrderAllocationEscalated,
	EventOrderAgentReleased,
	EventOrderDelivered,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
