package agents

import (
	"context"
	"sort"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an agents repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return nil, err
	}
	return agent, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// FindNearby prefilters available agents with a bounding box, then keeps the
// ones inside the radius ordered nearest first.
func (r *repository) FindNearby(ctx context.Context, query NearbyQuery) ([]NearbyAgent, error) {
	box := query.Center.BoundingBox(query.RadiusMeters)

	tx := r.db.WithContext(ctx).
		Where("status = ?", enums.AgentStatusAvailable).
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng).
		Where("max_active_orders = 0 OR current_order_count < max_active_orders")
	if len(query.ExcludeIDs) > 0 {
		tx = tx.Where("id NOT IN ?", query.ExcludeIDs)
	}
	if query.CODAmount.IsPositive() {
		tx = tx.Where("max_cod_amount > 0 AND current_cod_holding + ? < max_cod_amount", query.CODAmount)
	}

	var rows []models.Agent
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}

	nearby := make([]NearbyAgent, 0, len(rows))
	for _, agent := range rows {
		distance := query.Center.DistanceMeters(agent.Location())
		if distance > query.RadiusMeters {
			continue
		}
		nearby = append(nearby, NearbyAgent{Agent: agent, DistanceMeters: distance})
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		if nearby[i].DistanceMeters == nearby[j].DistanceMeters {
			return nearby[i].Agent.ID.String() < nearby[j].Agent.ID.String()
		}
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	if query.Limit > 0 && len(nearby) > query.Limit {
		nearby = nearby[:query.Limit]
	}
	return nearby, nil
}

// ReserveCapacity increments the agent's active-order counter and COD holding
// only while both stay under their caps. It reports false when the agent is
// offline or full.
func (r *repository) ReserveCapacity(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", agentID).
		Where("status <> ?", enums.AgentStatusOffline).
		Where("max_active_orders = 0 OR current_order_count < max_active_orders")
	if cod.IsPositive() {
		tx = tx.Where("max_cod_amount > 0 AND current_cod_holding + ? < max_cod_amount", cod)
	}

	res := tx.Updates(reserveUpdates(cod, now))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ForceReserve applies the same counters without cap checks. Operators use it
// to override.
func (r *repository) ForceReserve(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", agentID).
		Updates(reserveUpdates(cod, now))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func reserveUpdates(cod decimal.Decimal, now time.Time) map[string]any {
	updates := map[string]any{
		"current_order_count": gorm.Expr("current_order_count + 1"),
		"last_assigned_at":    now,
		"status": gorm.Expr(
			"CASE WHEN max_active_orders > 0 AND current_order_count + 1 >= max_active_orders THEN ? ELSE status END",
			enums.AgentStatusOrderAssigned,
		),
	}
	if cod.IsPositive() {
		updates["current_cod_holding"] = gorm.Expr("current_cod_holding + ?", cod)
	}
	return updates
}

// ReleaseCapacity undoes a reservation, never letting counters drop below zero.
func (r *repository) ReleaseCapacity(ctx context.Context, agentID uuid.UUID, cod decimal.Decimal) error {
	updates := map[string]any{
		"current_order_count": gorm.Expr("CASE WHEN current_order_count > 0 THEN current_order_count - 1 ELSE 0 END"),
		"status": gorm.Expr(
			"CASE WHEN status = ? THEN ? ELSE status END",
			enums.AgentStatusOrderAssigned, enums.AgentStatusAvailable,
		),
	}
	if cod.IsPositive() {
		updates["current_cod_holding"] = gorm.Expr(
			"CASE WHEN current_cod_holding > ? THEN current_cod_holding - ? ELSE 0 END", cod, cod,
		)
	}
	return r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", agentID).
		Updates(updates).Error
}

func (r *repository) UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]any{
			"lat":                 lat,
			"lng":                 lng,
			"location_updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdateStatus(ctx context.Context, agentID uuid.UUID, status enums.AgentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Agent{}).
		Where("id = ?", agentID).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
