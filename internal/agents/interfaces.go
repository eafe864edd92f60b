package agents

import (
	"context"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository defines persistence operations for delivery agents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	FindNearby(ctx context.Context, query NearbyQuery) ([]NearbyAgent, error)
	ReserveCapacity(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal, now time.Time) (bool, error)
	ForceReserve(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal, now time.Time) error
	ReleaseCapacity(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal) error
	UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64, now time.Time) (bool, error)
	UpdateStatus(ctx context.Context, agentID uuid.UUID, status enums.AgentStatus) (bool, error)
}
