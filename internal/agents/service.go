package agents

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service exposes the agent-facing updates that feed the geospatial index.
type Service interface {
	Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	UpdateLocation(ctx context.Context, agentID uuid.UUID, input LocationInput) (*models.Agent, error)
	UpdateStatus(ctx context.Context, agentID uuid.UUID, input StatusInput) (*models.Agent, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires agent dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "agents repository required")
	}
	return &service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	agent, err := s.repo.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
	}
	return agent, nil
}

func (s *service) UpdateLocation(ctx context.Context, agentID uuid.UUID, input LocationInput) (*models.Agent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	point := types.GeographyPoint{Lat: input.Lat, Lng: input.Lng}
	if err := point.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location")
	}

	found, err := s.repo.UpdateLocation(ctx, agentID, point.Lat, point.Lng, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent location")
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}
	return s.Get(ctx, agentID)
}

func (s *service) UpdateStatus(ctx context.Context, agentID uuid.UUID, input StatusInput) (*models.Agent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	status, err := enums.ParseAgentStatus(input.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid agent status")
	}

	found, err := s.repo.UpdateStatus(ctx, agentID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent status")
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}
	return s.Get(ctx, agentID)
}
