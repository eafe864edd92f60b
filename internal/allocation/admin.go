package allocation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
)

const (
	releaseReasonCancelled = "order_cancelled"
	defaultReassignReason  = "reassigned_by_operator"
)

// ManualAssign gives the order to an agent chosen by an operator, skipping
// the candidate protocol and the capacity caps. It still assigns only once.
func (e *Engine) ManualAssign(ctx context.Context, input ManualAssignInput) (Result, error) {
	if input.OrderID == uuid.Nil || input.AgentID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id and agent id required")
	}
	ctx = e.logg.WithOrderID(ctx, input.OrderID.String())
	ctx = e.logg.WithAgentID(ctx, input.AgentID.String())

	result, err := e.run(ctx, input.OrderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if order.IsAssigned() {
			return Result{Status: StatusAlreadyAssigned, Method: method, AgentID: order.AssignedAgentID}, nil
		}
		if _, err := r.agents.FindByID(ctx, input.AgentID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Result{}, errAgentNotFound
			}
			return Result{}, err
		}
		if _, err := e.commitAssignment(ctx, r, order, input.AgentID, enums.AssignmentManuallyAssigned, true, outbox.OperatorActor(input.OperatorID), fx); err != nil {
			return Result{Method: method}, err
		}
		result := withAgent(StatusAssigned, input.AgentID)
		result.Method = method
		return result, nil
	})
	e.observe("manual_assign", result, err)
	if err == nil {
		e.logg.Info(e.logg.WithField(ctx, "status", result.Status), "manual assignment applied")
	}
	return result, err
}

// Reassign takes the order away from its agent, releases the agent's
// counters and runs allocation again without that agent. The order sits in
// reassigned_to_another until the new attempt moves it on.
func (e *Engine) Reassign(ctx context.Context, orderID uuid.UUID, reason string) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if reason == "" {
		reason = defaultReassignReason
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	var previous uuid.UUID
	result, err := e.run(ctx, orderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if !order.IsAssigned() {
			return Result{}, errNotAssigned
		}
		previous = *order.AssignedAgentID
		if err := e.release(ctx, r, order, previous, enums.AssignmentReassigned, reason, fx); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusUnassigned, Method: method, Reason: reason}, nil
	})
	if err != nil || previous == uuid.Nil {
		e.observe("reassign", result, err)
		return result, err
	}
	e.logg.Info(e.logg.WithAgentID(ctx, previous.String()), "agent released for reassignment")
	return e.AssignWithOptions(ctx, orderID, AssignOptions{ExcludeAgentIDs: []uuid.UUID{previous}})
}

// CancelOrder closes the order for allocation. Outstanding offers are
// superseded, timers are cancelled and any assigned agent is released; timers
// that still fire later find the order closed.
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	result, err := e.run(ctx, orderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		now := e.now()
		outstanding, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
		if err != nil {
			return Result{}, err
		}
		cancelled, err := r.orders.MarkCancelled(ctx, order.ID, now)
		if err != nil {
			return Result{}, err
		}
		if !cancelled {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if _, err := r.orders.SupersedeOpen(ctx, order.ID, now); err != nil {
			return Result{}, err
		}
		for _, c := range outstanding {
			fx.cancel(candidateTimeoutKey(order.ID, c.AgentID))
			fx.publish(realtime.AgentRoom(c.AgentID), EventOfferWithdrawn, map[string]any{"order_id": order.ID.String()})
		}
		fx.cancel(broadcastExpiryKey(order.ID))

		if order.IsAssigned() {
			if err := r.agents.ReleaseCapacity(ctx, *order.AssignedAgentID, codAmount(order)); err != nil {
				return Result{}, err
			}
			if err := e.emitReleased(ctx, r, order, *order.AssignedAgentID, releaseReasonCancelled); err != nil {
				return Result{}, err
			}
			fx.released(order, *order.AssignedAgentID, releaseReasonCancelled)
		}
		fx.publishOrder(order, EventOrderCancelled, map[string]any{"order_id": order.ID.String()})
		return Result{Status: StatusCancelled, Method: method}, nil
	})
	e.observe("cancel", result, err)
	return result, err
}

// CompleteDelivery closes an assigned order as delivered and frees one of the
// agent's active-order slots. The order's cash stays in the agent's COD
// holding until it is remitted.
func (e *Engine) CompleteDelivery(ctx context.Context, orderID uuid.UUID) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	result, err := e.run(ctx, orderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if !order.IsAssigned() {
			return Result{}, errNotAssigned
		}
		agentID := *order.AssignedAgentID
		delivered, err := r.orders.MarkDelivered(ctx, order.ID, agentID)
		if err != nil {
			return Result{}, err
		}
		if !delivered {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if err := r.agents.ReleaseCapacity(ctx, agentID, decimal.Zero); err != nil {
			return Result{}, err
		}

		now := e.now()
		err = e.outbox.Emit(ctx, r.tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.AgentActor(agentID.String()),
			OccurredAt:    now,
			Data: outbox.OrderDeliveredEvent{
				OrderID:     order.ID,
				AgentID:     agentID,
				CODAmount:   codAmount(order),
				DeliveredAt: now,
			},
		})
		if err != nil {
			return Result{}, err
		}
		payload := map[string]any{"order_id": order.ID.String(), "agent_id": agentID.String()}
		fx.publishOrder(order, EventOrderDelivered, payload)
		fx.publish(realtime.AgentRoom(agentID), EventOrderDelivered, payload)

		result := withAgent(StatusDelivered, agentID)
		result.Method = method
		return result, nil
	})
	e.observe("complete_delivery", result, err)
	if err == nil && result.Status == StatusDelivered {
		e.logg.Info(e.logg.WithAgentID(ctx, result.AgentID.String()), "delivery completed")
	}
	return result, err
}

// RestartStale abandons every open offer of an order nobody answered in time,
// returns it to awaiting_agent_assignment and allocates it again.
func (e *Engine) RestartStale(ctx context.Context, orderID uuid.UUID) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	restarted := false
	result, err := e.run(ctx, orderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if order.IsAssigned() {
			return Result{Status: StatusAlreadyAssigned, Method: method, AgentID: order.AssignedAgentID}, nil
		}

		now := e.now()
		outstanding, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
		if err != nil {
			return Result{}, err
		}
		for _, c := range outstanding {
			moved, err := r.orders.TransitionCandidate(ctx, c.ID, enums.OutstandingCandidateStatuses, map[string]any{
				"status":       enums.CandidateTimedOut,
				"is_current":   false,
				"responded_at": now,
			})
			if err != nil {
				return Result{}, err
			}
			if moved {
				e.metrics.ObserveResolution("released_stale")
			}
			fx.cancel(candidateTimeoutKey(order.ID, c.AgentID))
		}
		if _, err := r.orders.SupersedeOpen(ctx, order.ID, now); err != nil {
			return Result{}, err
		}
		fx.cancel(broadcastExpiryKey(order.ID))

		err = r.orders.UpdateOrder(ctx, order.ID, map[string]any{
			"agent_assignment_status": enums.AssignmentAwaitingAgentAssignment,
			"last_allocation_at":      now,
		})
		if err != nil {
			return Result{}, err
		}
		fx.publish(realtime.OrderRoom(order.ID), EventAllocationRestarted, map[string]any{"released": len(outstanding)})
		restarted = true
		return Result{Status: StatusNoMoreCandidates, Method: method}, nil
	})
	if err != nil || !restarted {
		return result, err
	}
	return e.Assign(ctx, orderID)
}

// Escalate raises an operator alert for a stuck order, at most once per
// window. It reports whether an alert was raised.
func (e *Engine) Escalate(ctx context.Context, input EscalateInput) (bool, error) {
	if input.OrderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = e.logg.WithOrderID(ctx, input.OrderID.String())

	escalated := false
	_, err := e.run(ctx, input.OrderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		if order.IsTerminated() || order.IsAssigned() {
			return Result{}, nil
		}
		now := e.now()
		marked, err := r.orders.MarkEscalated(ctx, order.ID, input.NotSince, now)
		if err != nil {
			return Result{}, err
		}
		if !marked {
			return Result{}, nil
		}

		waitingSince := order.CreatedAt
		if order.LastAllocationAt != nil {
			waitingSince = *order.LastAllocationAt
		}
		event := outbox.AllocationEscalatedEvent{
			OrderID:      order.ID,
			RestaurantID: order.RestaurantID,
			Reason:       input.Reason,
			RadiusMeters: input.RadiusMeters,
			WaitingSince: waitingSince,
		}
		err = e.outbox.Emit(ctx, r.tx, outbox.DomainEvent{
			EventType:     enums.EventOrderAllocationEscalated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorSystem,
			OccurredAt:    now,
			Data:          event,
		})
		if err != nil {
			return Result{}, err
		}
		fx.publish(realtime.OperatorsRoom, EventAllocationEscalated, event)
		fx.publish(realtime.RestaurantRoom(order.RestaurantID), EventAllocationEscalated, map[string]any{"order_id": order.ID.String()})
		escalated = true
		return Result{}, nil
	})
	if err != nil {
		return false, err
	}
	if escalated {
		e.metrics.IncEscalation()
		e.logg.Warn(e.logg.WithField(ctx, "reason", input.Reason), "allocation escalated to operators")
	}
	return escalated, nil
}

// release clears the order's agent and undoes the agent's reservation.
func (e *Engine) release(ctx context.Context, r repos, order *models.Order, agentID uuid.UUID, status enums.AgentAssignmentStatus, reason string, fx *effects) error {
	released, err := r.orders.ReleaseAssignment(ctx, order.ID, agentID, status, e.now())
	if err != nil {
		return err
	}
	if !released {
		return errNotAssigned
	}
	if err := r.agents.ReleaseCapacity(ctx, agentID, codAmount(order)); err != nil {
		return err
	}
	if err := e.emitReleased(ctx, r, order, agentID, reason); err != nil {
		return err
	}
	fx.released(order, agentID, reason)
	return nil
}

func (e *Engine) emitReleased(ctx context.Context, r repos, order *models.Order, agentID uuid.UUID, reason string) error {
	return e.outbox.Emit(ctx, r.tx, outbox.DomainEvent{
		EventType:     enums.EventOrderAgentReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorSystem,
		OccurredAt:    e.now(),
		Data: outbox.AgentReleasedEvent{
			OrderID: order.ID,
			AgentID: agentID,
			Reason:  reason,
		},
	})
}
