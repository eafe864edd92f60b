package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AgentRejection excludes an agent from every future candidate list of an order.
type AgentRejection struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	AgentID    uuid.UUID `gorm:"column:agent_id;type:uuid;not null"`
	Reason     *string   `gorm:"column:reason"`
	RejectedAt time.Time `gorm:"column:rejected_at;not null"`
}

func (r *AgentRejection) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
