package agents

import (
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NearbyQuery describes a radius search around a point. Limit <= 0 returns
// every match.
type NearbyQuery struct {
	Center       types.GeographyPoint
	RadiusMeters float64
	ExcludeIDs   []uuid.UUID
	// CODAmount, when positive, drops agents whose cash cap cannot absorb it.
	CODAmount decimal.Decimal
	Limit     int
}

// NearbyAgent pairs an agent with its distance from the query center.
type NearbyAgent struct {
	Agent          models.Agent
	DistanceMeters float64
}

// LocationInput is the body of a location ping.
type LocationInput struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// StatusInput is the body of an availability change.
type StatusInput struct {
	Status string `json:"status" validate:"required,oneof=available offline order_assigned"`
}
