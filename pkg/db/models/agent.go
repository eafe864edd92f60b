package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
)

// Agent is the allocation-relevant view of a delivery agent.
type Agent struct {
	ID                      uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Name                    string            `gorm:"column:name;not null"`
	Status                  enums.AgentStatus `gorm:"column:status;type:text;not null;default:'offline'"`
	Lat                     float64           `gorm:"column:lat;not null;default:0"`
	Lng                     float64           `gorm:"column:lng;not null;default:0"`
	LocationUpdatedAt       *time.Time        `gorm:"column:location_updated_at"`
	CanAcceptOrRejectOrders bool              `gorm:"column:can_accept_or_reject_orders;not null"`
	MaxActiveOrders         int               `gorm:"column:max_active_orders;not null;default:0"`
	MaxCODAmount            decimal.Decimal   `gorm:"column:max_cod_amount;type:numeric(12,2);not null;default:0"`
	CurrentCODHolding       decimal.Decimal   `gorm:"column:current_cod_holding;type:numeric(12,2);not null;default:0"`
	CurrentOrderCount       int               `gorm:"column:current_order_count;not null;default:0"`
	AverageRating           float64           `gorm:"column:average_rating;not null;default:0"`
	LastAssignedAt          *time.Time        `gorm:"column:last_assigned_at"`
	PushToken               *string           `gorm:"column:push_token"`
	CreatedAt               time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a Agent) Location() types.GeographyPoint {
	return types.GeographyPoint{Lat: a.Lat, Lng: a.Lng}
}

// HasPushToken reports whether a device token is registered for pushes.
func (a Agent) HasPushToken() bool {
	return a.PushToken != nil && *a.PushToken != ""
}
