package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

// AgentCandidate is one agent considered for one order. Rows are never
// deleted; each allocation round appends a fresh set.
type AgentCandidate struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	AgentID        uuid.UUID             `gorm:"column:agent_id;type:uuid;not null"`
	Round          int                   `gorm:"column:round;not null"`
	Position       int                   `gorm:"column:position;not null"`
	Status         enums.CandidateStatus `gorm:"column:status;type:text;not null"`
	DistanceMeters float64               `gorm:"column:distance_meters;not null;default:0"`
	IsCurrent      bool                  `gorm:"column:is_current;not null;default:false"`
	AssignedAt     *time.Time            `gorm:"column:assigned_at"`
	NotifiedAt     *time.Time            `gorm:"column:notified_at"`
	RespondedAt    *time.Time            `gorm:"column:responded_at"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *AgentCandidate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
