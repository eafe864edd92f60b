package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

// AgentNotification stores the in-app copy of every message sent to an agent.
type AgentNotification struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	AgentID        uuid.UUID              `gorm:"column:agent_id;type:uuid;not null"`
	OrderID        *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	Type           enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title          string                 `gorm:"column:title;not null"`
	Body           string                 `gorm:"column:body;not null"`
	Data           json.RawMessage        `gorm:"column:data;type:jsonb"`
	DeliveryResult enums.DeliveryResult   `gorm:"column:delivery_result;type:text;not null"`
	ReadAt         *time.Time             `gorm:"column:read_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (n *AgentNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
