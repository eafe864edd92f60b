package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fooddash-backend/internal/allocation"
	"github.com/angelmondragon/fooddash-backend/internal/orders"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

const escalationReason = "no agent found after expanded search"

type staleOrderReader interface {
	ListStale(ctx context.Context, query orders.StaleQuery) ([]models.Order, error)
}

type allocator interface {
	RestartStale(ctx context.Context, orderID uuid.UUID) (allocation.Result, error)
	AssignWithOptions(ctx context.Context, orderID uuid.UUID, opts allocation.AssignOptions) (allocation.Result, error)
	Escalate(ctx context.Context, input allocation.EscalateInput) (bool, error)
}

// ReassignmentSweepJobParams configure the stuck-order sweep.
type ReassignmentSweepJobParams struct {
	Logger    *logger.Logger
	Orders    staleOrderReader
	Allocator allocator
	Config    config.AllocationConfig
}

// NewReassignmentSweepJob builds the job that recovers orders nobody answered
// and escalates the ones that stay unassigned after a wider search.
func NewReassignmentSweepJob(params ReassignmentSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Config.AcceptanceGracePeriod <= 0 || params.Config.AssignmentGracePeriod <= 0 {
		return nil, fmt.Errorf("sweep grace periods must be positive")
	}
	return &reassignmentSweepJob{
		logg:      params.Logger,
		orders:    params.Orders,
		allocator: params.Allocator,
		cfg:       params.Config,
		now:       time.Now,
	}, nil
}

type reassignmentSweepJob struct {
	logg      *logger.Logger
	orders    staleOrderReader
	allocator allocator
	cfg       config.AllocationConfig
	now       func() time.Time
}

func (j *reassignmentSweepJob) Name() string { return "reassignment-sweep" }

func (j *reassignmentSweepJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.restartUnanswered(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.retryUnassigned(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

// restartUnanswered releases offers that sat past the acceptance grace period
// and runs allocation again.
func (j *reassignmentSweepJob) restartUnanswered(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.cfg.AcceptanceGracePeriod)
	stale, err := j.orders.ListStale(ctx, orders.StaleQuery{
		AssignmentStatus: enums.AssignmentAwaitingAgentAcceptance,
		Before:           cutoff,
		Limit:            j.cfg.SweepBatchSize,
	})
	if err != nil {
		return fmt.Errorf("query orders awaiting acceptance: %w", err)
	}

	var errs error
	restarted := 0
	for _, order := range stale {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		result, err := j.allocator.RestartStale(orderCtx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restart order %s: %w", order.ID, err))
			continue
		}
		restarted++
		j.logg.Info(j.logg.WithField(orderCtx, "status", result.Status), "stale offer restarted")
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": restarted, "found": len(stale)})
	j.logg.Info(logCtx, "acceptance sweep complete")
	return errs
}

// retryUnassigned widens the search for orders waiting past the assignment
// grace period and escalates those that still find nobody.
func (j *reassignmentSweepJob) retryUnassigned(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.cfg.AssignmentGracePeriod)

	var (
		errs  error
		found []models.Order
	)
	for _, status := range []enums.AgentAssignmentStatus{
		enums.AssignmentAwaitingAgentAssignment,
		enums.AssignmentUnassigned,
		enums.AssignmentReassigned,
	} {
		batch, err := j.orders.ListStale(ctx, orders.StaleQuery{
			AssignmentStatus: status,
			Before:           cutoff,
			Limit:            j.cfg.SweepBatchSize,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("query %s orders: %w", status, err))
			continue
		}
		found = append(found, batch...)
	}

	radius := j.cfg.SearchRadiusMeters * j.cfg.EscalationRadiusMultiplier
	if radius < j.cfg.SearchRadiusMeters {
		radius = j.cfg.SearchRadiusMeters
	}

	escalated := 0
	for _, order := range found {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		result, err := j.allocator.AssignWithOptions(orderCtx, order.ID, allocation.AssignOptions{RadiusMeters: radius})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("retry order %s: %w", order.ID, err))
			continue
		}
		if result.Status != allocation.StatusUnassigned && result.Status != allocation.StatusNoMoreCandidates {
			j.logg.Info(j.logg.WithField(orderCtx, "status", result.Status), "expanded search progressed")
			continue
		}
		raised, err := j.allocator.Escalate(orderCtx, allocation.EscalateInput{
			OrderID:      order.ID,
			Reason:       escalationReason,
			RadiusMeters: radius,
			NotSince:     cutoff,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("escalate order %s: %w", order.ID, err))
			continue
		}
		if raised {
			escalated++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"found": len(found), "escalated": escalated})
	j.logg.Info(logCtx, "assignment sweep complete")
	return errs
}
