package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and their candidate
// pipeline. Every state transition is a conditional update; callers check the
// returned bool instead of trusting a previously read copy.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ClaimAssignment(ctx context.Context, orderID, agentID uuid.UUID, status enums.AgentAssignmentStatus, now time.Time) (bool, error)
	ReleaseAssignment(ctx context.Context, orderID, agentID uuid.UUID, status enums.AgentAssignmentStatus, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	MarkDelivered(ctx context.Context, orderID, agentID uuid.UUID) (bool, error)
	MarkEscalated(ctx context.Context, orderID uuid.UUID, notSince, now time.Time) (bool, error)
	InsertCandidates(ctx context.Context, candidates []models.AgentCandidate) error
	FindCandidate(ctx context.Context, orderID, agentID uuid.UUID) (*models.AgentCandidate, error)
	FindCurrentCandidate(ctx context.Context, orderID uuid.UUID) (*models.AgentCandidate, error)
	NextWaitingCandidate(ctx context.Context, orderID uuid.UUID, round int) (*models.AgentCandidate, error)
	ListOutstandingCandidates(ctx context.Context, orderID uuid.UUID) ([]models.AgentCandidate, error)
	TransitionCandidate(ctx context.Context, candidateID uuid.UUID, from []enums.CandidateStatus, updates map[string]any) (bool, error)
	ClearCurrent(ctx context.Context, orderID uuid.UUID) error
	SupersedeOpen(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	AddRejection(ctx context.Context, rejection *models.AgentRejection) error
	ListStale(ctx context.Context, query StaleQuery) ([]models.Order, error)
}
