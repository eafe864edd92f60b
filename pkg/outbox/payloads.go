package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

// AgentAssignedEvent is emitted when an order gains its agent.
type AgentAssignedEvent struct {
	OrderID          uuid.UUID                   `json:"order_id"`
	AgentID          uuid.UUID                   `json:"agent_id"`
	RestaurantID     uuid.UUID                   `json:"restaurant_id"`
	CustomerID       uuid.UUID                   `json:"customer_id"`
	Method           enums.AllocationMethod      `json:"method"`
	AssignmentStatus enums.AgentAssignmentStatus `json:"assignment_status"`
	AssignedAt       time.Time                   `json:"assigned_at"`
}

// AllocationEscalatedEvent asks operators to step in for a stuck order.
type AllocationEscalatedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Reason       string    `json:"reason"`
	RadiusMeters float64   `json:"radius_meters"`
	WaitingSince time.Time `json:"waiting_since"`
}

// OrderDeliveredEvent closes an order. CODAmount is the cash the agent now
// holds for it until remittance.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	CODAmount   decimal.Decimal `json:"cod_amount"`
	DeliveredAt time.Time       `json:"delivered_at"`
}

// AgentReleasedEvent is emitted when an agent stops holding an order through
// reassignment or cancellation.
type AgentReleasedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	AgentID uuid.UUID `json:"agent_id"`
	Reason  string    `json:"reason"`
}
