package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence helpers for agent notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.AgentNotification) error
	ListByAgent(ctx context.Context, params listNotificationsParams) ([]models.AgentNotification, error)
	MarkRead(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	AgentID    uuid.UUID
	Limit      int
	UnreadOnly bool
}

type notificationMarkResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.AgentNotification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) ListByAgent(ctx context.Context, params listNotificationsParams) ([]models.AgentNotification, error) {
	query := r.db.WithContext(ctx).
		Model(&models.AgentNotification{}).
		Where("agent_id = ?", params.AgentID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var rows []models.AgentNotification
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AgentNotification{}).
		Where("id = ? AND agent_id = ? AND read_at IS NULL", notificationID, agentID).
		Update("read_at", now)
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return notificationMarkResult{Updated: true, Found: true}, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.AgentNotification{}).
		Where("id = ? AND agent_id = ?", notificationID, agentID).
		Count(&count).Error; err != nil {
		return notificationMarkResult{}, err
	}
	return notificationMarkResult{Found: count > 0}, nil
}

// DeleteOlderThan purges notifications created before cutoff, read or not.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	result := conn.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AgentNotification{})
	return result.RowsAffected, result.Error
}
