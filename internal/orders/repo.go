package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalOrderStatuses = []enums.OrderStatus{enums.OrderStatusDelivered, enums.OrderStatusCancelled}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Candidates", func(db *gorm.DB) *gorm.DB {
			return db.Order("round ASC, position ASC")
		}).
		Preload("Rejections", func(db *gorm.DB) *gorm.DB {
			return db.Order("rejected_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockForUpdate takes the order's row lock for the rest of the transaction
// without writing to it. Concurrent cascades for the same order queue behind
// it. Only postgres supports row locks; sqlite already serializes writers.
func (r *repository) LockForUpdate(ctx context.Context, id uuid.UUID) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Limit(1)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) == 1, nil
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ClaimAssignment sets the assigned agent only if nobody holds the order yet
// and it is still open.
func (r *repository) ClaimAssignment(ctx context.Context, orderID, agentID uuid.UUID, status enums.AgentAssignmentStatus, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Where("assigned_agent_id IS NULL").
		Where("cancelled_at IS NULL").
		Where("status NOT IN ?", terminalOrderStatuses).
		Updates(map[string]any{
			"assigned_agent_id":       agentID,
			"agent_assignment_status": status,
			"assigned_at":             now,
			"last_allocation_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseAssignment clears the assigned agent if it is still agentID.
func (r *repository) ReleaseAssignment(ctx context.Context, orderID, agentID uuid.UUID, status enums.AgentAssignmentStatus, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND assigned_agent_id = ?", orderID, agentID).
		Updates(map[string]any{
			"assigned_agent_id":       nil,
			"assigned_at":             nil,
			"agent_assignment_status": status,
			"last_allocation_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCancelled(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Where("status NOT IN ?", terminalOrderStatuses).
		Updates(map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkDelivered closes the order as delivered if agentID still holds it.
func (r *repository) MarkDelivered(ctx context.Context, orderID, agentID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND assigned_agent_id = ?", orderID, agentID).
		Where("cancelled_at IS NULL").
		Where("status NOT IN ?", terminalOrderStatuses).
		Update("status", enums.OrderStatusDelivered)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkEscalated stamps escalated_at unless the order was already escalated at
// or after notSince.
func (r *repository) MarkEscalated(ctx context.Context, orderID uuid.UUID, notSince, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Where("escalated_at IS NULL OR escalated_at < ?", notSince).
		Update("escalated_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertCandidates(ctx context.Context, candidates []models.AgentCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&candidates).Error
}

// FindCandidate returns the agent's candidate row from the latest round it
// took part in.
func (r *repository) FindCandidate(ctx context.Context, orderID, agentID uuid.UUID) (*models.AgentCandidate, error) {
	var candidate models.AgentCandidate
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND agent_id = ?", orderID, agentID).
		Order("round DESC").
		First(&candidate).Error
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

// FindCurrentCandidate returns nil without error when no candidate is current.
func (r *repository) FindCurrentCandidate(ctx context.Context, orderID uuid.UUID) (*models.AgentCandidate, error) {
	var candidate models.AgentCandidate
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_current = ?", orderID, true).
		First(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

// NextWaitingCandidate returns the first queued or waiting candidate of the
// round in list order, or nil when the list is exhausted.
func (r *repository) NextWaitingCandidate(ctx context.Context, orderID uuid.UUID, round int) (*models.AgentCandidate, error) {
	var candidate models.AgentCandidate
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND round = ?", orderID, round).
		Where("status IN ?", enums.WaitingCandidateStatuses).
		Order("position ASC").
		First(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

func (r *repository) ListOutstandingCandidates(ctx context.Context, orderID uuid.UUID) ([]models.AgentCandidate, error) {
	var candidates []models.AgentCandidate
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status IN ?", enums.OutstandingCandidateStatuses).
		Order("round ASC, position ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// TransitionCandidate applies updates only while the candidate is in one of
// the from states. The returned bool is the compare-and-set outcome.
func (r *repository) TransitionCandidate(ctx context.Context, candidateID uuid.UUID, from []enums.CandidateStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AgentCandidate{}).
		Where("id = ?", candidateID).
		Where("status IN ?", from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ClearCurrent(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.AgentCandidate{}).
		Where("order_id = ? AND is_current = ?", orderID, true).
		Update("is_current", false).Error
}

// SupersedeOpen closes every outstanding or waiting candidate of the order.
func (r *repository) SupersedeOpen(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	open := append(append([]enums.CandidateStatus{}, enums.OutstandingCandidateStatuses...), enums.WaitingCandidateStatuses...)
	res := r.db.WithContext(ctx).
		Model(&models.AgentCandidate{}).
		Where("order_id = ?", orderID).
		Where("status IN ?", open).
		Updates(map[string]any{
			"status":       enums.CandidateSuperseded,
			"is_current":   false,
			"responded_at": gorm.Expr("COALESCE(responded_at, ?)", now),
		})
	return res.RowsAffected, res.Error
}

// AddRejection records the agent's refusal once per order.
func (r *repository) AddRejection(ctx context.Context, rejection *models.AgentRejection) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "agent_id"}},
			DoNothing: true,
		}).
		Create(rejection).Error
}

// ListStale returns open, unassigned orders in the given assignment status
// whose last allocation step is older than the cutoff, oldest first.
func (r *repository) ListStale(ctx context.Context, query StaleQuery) ([]models.Order, error) {
	tx := r.db.WithContext(ctx).
		Where("agent_assignment_status = ?", query.AssignmentStatus).
		Where("assigned_agent_id IS NULL").
		Where("cancelled_at IS NULL").
		Where("status NOT IN ?", terminalOrderStatuses).
		Where("COALESCE(last_allocation_at, created_at) < ?", query.Before).
		Order("COALESCE(last_allocation_at, created_at) ASC")
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	var rows []models.Order
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
