package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
)

// Order is the aggregate root for agent allocation.
type Order struct {
	ID                    uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	RestaurantID          uuid.UUID                   `gorm:"column:restaurant_id;type:uuid;not null"`
	CustomerID            uuid.UUID                   `gorm:"column:customer_id;type:uuid;not null"`
	Status                enums.OrderStatus           `gorm:"column:status;type:text;not null;default:'placed'"`
	RestaurantLat         float64                     `gorm:"column:restaurant_lat;not null"`
	RestaurantLng         float64                     `gorm:"column:restaurant_lng;not null"`
	PaymentMethod         enums.PaymentMethod         `gorm:"column:payment_method;type:text;not null"`
	TotalAmount           decimal.Decimal             `gorm:"column:total_amount;type:numeric(12,2);not null"`
	AllocationMethod      enums.AllocationMethod      `gorm:"column:allocation_method;type:text;not null"`
	AssignedAgentID       *uuid.UUID                  `gorm:"column:assigned_agent_id;type:uuid"`
	AgentAssignmentStatus enums.AgentAssignmentStatus `gorm:"column:agent_assignment_status;type:text;not null;default:'unassigned'"`
	AllocationRound       int                         `gorm:"column:allocation_round;not null;default:0"`
	LastAllocationAt      *time.Time                  `gorm:"column:last_allocation_at"`
	AssignedAt            *time.Time                  `gorm:"column:assigned_at"`
	EscalatedAt           *time.Time                  `gorm:"column:escalated_at"`
	CancelledAt           *time.Time                  `gorm:"column:cancelled_at"`
	Candidates            []AgentCandidate            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Rejections            []AgentRejection            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (o Order) RestaurantLocation() types.GeographyPoint {
	return types.GeographyPoint{Lat: o.RestaurantLat, Lng: o.RestaurantLng}
}

func (o Order) IsAssigned() bool {
	return o.AssignedAgentID != nil
}

// IsTerminated reports whether allocation must not touch the order anymore.
func (o Order) IsTerminated() bool {
	return o.Status.IsTerminal() || o.CancelledAt != nil
}

// RejectedAgentIDs lists every agent that explicitly declined the order.
func (o Order) RejectedAgentIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(o.Rejections))
	for _, r := range o.Rejections {
		ids = append(ids, r.AgentID)
	}
	return ids
}
