package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
)

// Assign runs the order's allocation method with the configured search.
func (e *Engine) Assign(ctx context.Context, orderID uuid.UUID) (Result, error) {
	return e.AssignWithOptions(ctx, orderID, AssignOptions{})
}

// AssignWithOptions runs the order's allocation method. Calling it on an order
// that already holds an agent is a no-op returning StatusAlreadyAssigned.
func (e *Engine) AssignWithOptions(ctx context.Context, orderID uuid.UUID, opts AssignOptions) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	result, err := e.run(ctx, orderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		return e.assign(ctx, r, order, opts, fx)
	})
	e.observe("assign", result, err)
	if err != nil {
		e.logg.Error(ctx, "allocation attempt failed", err)
		return failed(result.Method, err), err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{"method": result.Method, "status": result.Status})
	e.logg.Info(logCtx, "allocation attempt finished")
	return result, nil
}

func (e *Engine) assign(ctx context.Context, r repos, order *models.Order, opts AssignOptions, fx *effects) (Result, error) {
	method := e.methodFor(order)
	switch {
	case order.IsTerminated():
		return Result{Status: StatusOrderClosed, Method: method}, nil
	case order.IsAssigned():
		return Result{Status: StatusAlreadyAssigned, Method: method, AgentID: order.AssignedAgentID}, nil
	case hasOutstanding(order):
		return Result{Status: StatusInProgress, Method: method}, nil
	}

	radius := opts.RadiusMeters
	if radius <= 0 {
		radius = e.cfg.SearchRadiusMeters
	}
	params := buildParams{
		RadiusMeters:   radius,
		Limit:          e.cfg.CandidateLimit,
		Exclude:        opts.ExcludeAgentIDs,
		Ordering:       byDistance,
		ConsiderRating: e.cfg.ConsiderRating,
	}

	var (
		result Result
		err    error
	)
	switch method {
	case enums.AllocationManual:
		result = Result{Status: StatusManualPending}
	case enums.AllocationOneByOne:
		result, err = e.assignOneByOne(ctx, r, order, params, fx)
	case enums.AllocationBroadcast:
		params.Limit = e.cfg.BroadcastLimit
		result, err = e.assignBroadcast(ctx, r, order, params, fx)
	case enums.AllocationNearest:
		result, err = e.assignImmediately(ctx, r, order, params, fx)
	case enums.AllocationRoundRobin, enums.AllocationFIFO:
		params.Ordering = byLastAssigned
		result, err = e.assignImmediately(ctx, r, order, params, fx)
	default:
		err = pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported allocation method %q", method)
	}
	result.Method = method
	return result, err
}

func (e *Engine) assignOneByOne(ctx context.Context, r repos, order *models.Order, params buildParams, fx *effects) (Result, error) {
	queue, err := buildCandidates(ctx, r.agents, order, params)
	if err != nil {
		return Result{}, err
	}
	if len(queue) == 0 {
		return Result{Status: StatusUnassigned, Reason: ReasonNoAgentsNearby}, nil
	}

	round, err := e.openRound(ctx, r, order, queue, enums.CandidateQueued, nil)
	if err != nil {
		return Result{}, err
	}
	order.AllocationRound = round

	result, err := e.advance(ctx, r, order, fx)
	if err != nil {
		return Result{}, err
	}
	if result.Status == StatusNextAgentNotified {
		result.Status = StatusFirstAgentNotified
	}
	return result, nil
}

func (e *Engine) assignBroadcast(ctx context.Context, r repos, order *models.Order, params buildParams, fx *effects) (Result, error) {
	queue, err := buildCandidates(ctx, r.agents, order, params)
	if err != nil {
		return Result{}, err
	}
	if len(queue) == 0 {
		return Result{Status: StatusUnassigned, Reason: ReasonNoAgentsNearby}, nil
	}

	now := e.now()
	round, err := e.openRound(ctx, r, order, queue, enums.CandidateSent, &now)
	if err != nil {
		return Result{}, err
	}
	err = r.orders.UpdateOrder(ctx, order.ID, map[string]any{
		"agent_assignment_status": enums.AssignmentAwaitingAgentAcceptance,
		"last_allocation_at":      now,
	})
	if err != nil {
		return Result{}, err
	}

	var expiresAt *time.Time
	if e.cfg.BroadcastExpiry > 0 {
		deadline := now.Add(e.cfg.BroadcastExpiry)
		expiresAt = &deadline
		fx.schedule(JobBroadcastExpiry, broadcastExpiryKey(order.ID), e.cfg.BroadcastExpiry, BroadcastExpiryPayload{
			OrderID: order.ID,
			Round:   round,
		})
	}

	rows, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
	if err != nil {
		return Result{}, err
	}
	for _, row := range rows {
		fx.offer(order, row, expiresAt)
	}
	return Result{Status: StatusBroadcasted, Notified: len(rows)}, nil
}

// assignImmediately gives the order to the first queued agent that still has
// capacity, with no acceptance window.
func (e *Engine) assignImmediately(ctx context.Context, r repos, order *models.Order, params buildParams, fx *effects) (Result, error) {
	queue, err := buildCandidates(ctx, r.agents, order, params)
	if err != nil {
		return Result{}, err
	}
	if len(queue) == 0 {
		return Result{Status: StatusUnassigned, Reason: ReasonNoAgentsNearby}, nil
	}

	for i, candidate := range queue {
		now := e.now()
		row := models.AgentCandidate{
			OrderID:        order.ID,
			AgentID:        candidate.Agent.ID,
			Round:          order.AllocationRound + 1,
			Position:       i,
			Status:         enums.CandidateAccepted,
			DistanceMeters: candidate.DistanceMeters,
			NotifiedAt:     &now,
			AssignedAt:     &now,
		}
		ok, err := e.commitAssignment(ctx, r, order, candidate.Agent.ID, enums.AssignmentAssigned, false, outbox.ActorSystem, fx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		if err := r.orders.InsertCandidates(ctx, []models.AgentCandidate{row}); err != nil {
			return Result{}, err
		}
		if err := r.orders.UpdateOrder(ctx, order.ID, map[string]any{"allocation_round": row.Round}); err != nil {
			return Result{}, err
		}
		return withAgent(StatusAssigned, candidate.Agent.ID), nil
	}
	return Result{Status: StatusUnassigned, Reason: ReasonNoCapacity}, nil
}

// openRound appends queue as a new candidate round and returns its number.
func (e *Engine) openRound(ctx context.Context, r repos, order *models.Order, queue []agents.NearbyAgent, status enums.CandidateStatus, notifiedAt *time.Time) (int, error) {
	round := order.AllocationRound + 1
	rows := make([]models.AgentCandidate, 0, len(queue))
	for i, candidate := range queue {
		rows = append(rows, models.AgentCandidate{
			OrderID:        order.ID,
			AgentID:        candidate.Agent.ID,
			Round:          round,
			Position:       i,
			Status:         status,
			DistanceMeters: candidate.DistanceMeters,
			NotifiedAt:     notifiedAt,
		})
	}
	if err := r.orders.InsertCandidates(ctx, rows); err != nil {
		return 0, err
	}
	if err := r.orders.UpdateOrder(ctx, order.ID, map[string]any{"allocation_round": round}); err != nil {
		return 0, err
	}
	return round, nil
}

// advance promotes the next queued candidate of the current round. Agents
// that cannot accept or reject are assigned on the spot; agents gone offline
// are skipped. It returns StatusNoMoreCandidates once the queue is exhausted
// and leaves the order for the reassignment sweep.
func (e *Engine) advance(ctx context.Context, r repos, order *models.Order, fx *effects) (Result, error) {
	if err := r.orders.ClearCurrent(ctx, order.ID); err != nil {
		return Result{}, err
	}

	for {
		next, err := r.orders.NextWaitingCandidate(ctx, order.ID, order.AllocationRound)
		if err != nil {
			return Result{}, err
		}
		if next == nil {
			return Result{Status: StatusNoMoreCandidates}, nil
		}
		now := e.now()

		agent, err := r.agents.FindByID(ctx, next.AgentID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, err
		}
		if agent == nil || agent.Status == enums.AgentStatusOffline {
			if _, err := r.orders.TransitionCandidate(ctx, next.ID, enums.WaitingCandidateStatuses, supersededUpdates(now)); err != nil {
				return Result{}, err
			}
			continue
		}

		if !agent.CanAcceptOrRejectOrders {
			moved, err := r.orders.TransitionCandidate(ctx, next.ID, enums.WaitingCandidateStatuses, map[string]any{
				"status":      enums.CandidateAccepted,
				"notified_at": now,
				"assigned_at": now,
			})
			if err != nil {
				return Result{}, err
			}
			if !moved {
				continue
			}
			ok, err := e.commitAssignment(ctx, r, order, agent.ID, enums.AssignmentAutoAccepted, false, outbox.ActorSystem, fx)
			if err != nil {
				return Result{}, err
			}
			if ok {
				e.metrics.ObserveResolution("auto_accepted")
				return withAgent(StatusAssigned, agent.ID), nil
			}
			if _, err := r.orders.TransitionCandidate(ctx, next.ID, []enums.CandidateStatus{enums.CandidateAccepted}, supersededUpdates(now)); err != nil {
				return Result{}, err
			}
			continue
		}

		moved, err := r.orders.TransitionCandidate(ctx, next.ID, enums.WaitingCandidateStatuses, map[string]any{
			"status":      enums.CandidatePending,
			"is_current":  true,
			"notified_at": now,
		})
		if err != nil {
			return Result{}, err
		}
		if !moved {
			continue
		}
		err = r.orders.UpdateOrder(ctx, order.ID, map[string]any{
			"agent_assignment_status": enums.AssignmentAwaitingAgentAcceptance,
			"last_allocation_at":      now,
		})
		if err != nil {
			return Result{}, err
		}

		next.Status = enums.CandidatePending
		next.IsCurrent = true
		next.NotifiedAt = &now
		deadline := now.Add(e.cfg.ResponseTimeout)
		fx.offer(order, *next, &deadline)
		fx.schedule(JobCandidateTimeout, candidateTimeoutKey(order.ID, agent.ID), e.cfg.ResponseTimeout, CandidateTimeoutPayload{
			OrderID:     order.ID,
			AgentID:     agent.ID,
			CandidateID: next.ID,
		})

		candidateID := next.ID
		result := withAgent(StatusNextAgentNotified, agent.ID)
		result.CandidateID = &candidateID
		return result, nil
	}
}

// commitAssignment reserves the agent's capacity and claims the order for it.
// It reports false when the agent has no room left; force skips the caps.
// Every other open candidate is superseded and its timer cancelled.
func (e *Engine) commitAssignment(
	ctx context.Context,
	r repos,
	order *models.Order,
	agentID uuid.UUID,
	status enums.AgentAssignmentStatus,
	force bool,
	actor *outbox.ActorRef,
	fx *effects,
) (bool, error) {
	now := e.now()
	cod := codAmount(order)
	if force {
		if err := r.agents.ForceReserve(ctx, agentID, cod, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, errAgentNotFound
			}
			return false, err
		}
	} else {
		reserved, err := r.agents.ReserveCapacity(ctx, agentID, cod, now)
		if err != nil {
			return false, err
		}
		if !reserved {
			return false, nil
		}
	}

	claimed, err := r.orders.ClaimAssignment(ctx, order.ID, agentID, status, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, errAlreadyAssigned
	}

	outstanding, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
	if err != nil {
		return false, err
	}
	if _, err := r.orders.SupersedeOpen(ctx, order.ID, now); err != nil {
		return false, err
	}
	for _, c := range outstanding {
		fx.cancel(candidateTimeoutKey(order.ID, c.AgentID))
		if c.AgentID != agentID {
			fx.publish(realtime.AgentRoom(c.AgentID), EventOfferWithdrawn, map[string]any{"order_id": order.ID.String()})
		}
	}
	if order.AllocationMethod == enums.AllocationBroadcast {
		fx.cancel(broadcastExpiryKey(order.ID))
	}

	err = e.outbox.Emit(ctx, r.tx, outbox.DomainEvent{
		EventType:     enums.EventOrderAgentAssigned,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: outbox.AgentAssignedEvent{
			OrderID:          order.ID,
			AgentID:          agentID,
			RestaurantID:     order.RestaurantID,
			CustomerID:       order.CustomerID,
			Method:           order.AllocationMethod,
			AssignmentStatus: status,
			AssignedAt:       now,
		},
	})
	if err != nil {
		return false, err
	}

	order.AssignedAgentID = &agentID
	order.AgentAssignmentStatus = status
	fx.assigned(order, agentID, status)
	return true, nil
}

func supersededUpdates(now time.Time) map[string]any {
	return map[string]any{
		"status":       enums.CandidateSuperseded,
		"is_current":   false,
		"responded_at": now,
	}
}
