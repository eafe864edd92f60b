package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// Message is one notification addressed to an agent.
type Message struct {
	AgentID uuid.UUID
	OrderID *uuid.UUID
	Type    enums.NotificationType
	Title   string
	Body    string
	Data    map[string]any
}

// Notifier delivers messages to agents. Delivery problems are reported in the
// result, never as an error.
type Notifier interface {
	Notify(ctx context.Context, msg Message) enums.DeliveryResult
}

// Service defines notification delivery plus the agent inbox operations.
type Service interface {
	Notifier
	List(ctx context.Context, params ListParams) ([]models.AgentNotification, error)
	MarkRead(ctx context.Context, agentID, notificationID uuid.UUID) error
}

type agentLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// ListParams configures the agent inbox listing.
type ListParams struct {
	AgentID    uuid.UUID
	Limit      int
	UnreadOnly bool
}

// ServiceParams wires notification dependencies.
type ServiceParams struct {
	Repo   Repository
	Agents agentLookup
	Push   PushSender
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	agents agentLookup
	push   PushSender
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires notifications dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Agents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "agents lookup required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	push := params.Push
	if push == nil {
		push = NewLogPushSender(params.Logger)
	}
	return &service{
		repo:   params.Repo,
		agents: params.Agents,
		push:   push,
		logg:   params.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Notify stores the in-app copy and hands the push to the sender.
func (s *service) Notify(ctx context.Context, msg Message) enums.DeliveryResult {
	logCtx := s.logg.WithAgentID(ctx, msg.AgentID.String())
	logCtx = s.logg.WithField(logCtx, "notification_type", msg.Type)

	data, err := json.Marshal(msg.Data)
	if err != nil {
		s.logg.Error(logCtx, "failed to encode notification data", err)
		data = nil
	}

	result := s.deliver(logCtx, msg, data)

	row := &models.AgentNotification{
		AgentID:        msg.AgentID,
		OrderID:        msg.OrderID,
		Type:           msg.Type,
		Title:          msg.Title,
		Body:           msg.Body,
		Data:           data,
		DeliveryResult: result,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		s.logg.Error(logCtx, "failed to record agent notification", err)
	}
	return result
}

func (s *service) deliver(ctx context.Context, msg Message, data json.RawMessage) enums.DeliveryResult {
	agent, err := s.agents.FindByID(ctx, msg.AgentID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Error(ctx, "failed to load agent for push", err)
			return enums.DeliveryFailed
		}
		s.logg.Warn(ctx, "push target agent not found")
		return enums.DeliveryNoTokens
	}
	if !agent.HasPushToken() {
		return enums.DeliveryNoTokens
	}

	err = s.push.Send(ctx, PushMessage{
		AgentID: msg.AgentID.String(),
		Token:   *agent.PushToken,
		Type:    string(msg.Type),
		Title:   msg.Title,
		Body:    msg.Body,
		Data:    data,
	})
	if err != nil {
		s.logg.Error(ctx, "push delivery failed", err)
		return enums.DeliveryFailed
	}
	return enums.DeliveryDelivered
}

func (s *service) List(ctx context.Context, params ListParams) ([]models.AgentNotification, error) {
	if params.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	limit := params.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rows, err := s.repo.ListByAgent(ctx, listNotificationsParams{
		AgentID:    params.AgentID,
		Limit:      limit,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	return rows, nil
}

func (s *service) MarkRead(ctx context.Context, agentID, notificationID uuid.UUID) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, agentID, notificationID, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}
