package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
)

// Respond applies an agent's accept or reject. Late answers come back as
// StatusTooLate or StatusAlreadyAssigned without touching state.
func (e *Engine) Respond(ctx context.Context, input RespondInput) (Result, error) {
	if input.OrderID == uuid.Nil || input.AgentID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id and agent id required")
	}
	if _, err := enums.ParseAgentDecision(string(input.Decision)); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision")
	}
	ctx = e.logg.WithOrderID(ctx, input.OrderID.String())
	ctx = e.logg.WithAgentID(ctx, input.AgentID.String())

	result, err := e.run(ctx, input.OrderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		return e.respond(ctx, r, order, input, fx)
	})
	e.observe("respond", result, err)
	if err != nil {
		return result, err
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{"decision": input.Decision, "status": result.Status}), "agent response applied")
	return result, nil
}

func (e *Engine) respond(ctx context.Context, r repos, order *models.Order, input RespondInput, fx *effects) (Result, error) {
	method := e.methodFor(order)
	if order.IsTerminated() {
		return Result{Status: StatusOrderClosed, Method: method}, nil
	}
	candidate, err := r.orders.FindCandidate(ctx, order.ID, input.AgentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, errNoOffer
		}
		return Result{}, err
	}
	if order.IsAssigned() {
		return Result{Status: StatusAlreadyAssigned, Method: method, AgentID: order.AssignedAgentID}, nil
	}
	if candidate.RespondedAt != nil || !candidate.Status.IsOutstanding() {
		return Result{Status: StatusTooLate, Method: method}, nil
	}

	now := e.now()
	if input.Decision == enums.AgentDecisionAccept {
		moved, err := r.orders.TransitionCandidate(ctx, candidate.ID, enums.OutstandingCandidateStatuses, map[string]any{
			"status":       enums.CandidateAccepted,
			"is_current":   false,
			"responded_at": now,
			"assigned_at":  now,
		})
		if err != nil {
			return Result{}, err
		}
		if !moved {
			return Result{Status: StatusTooLate, Method: method}, nil
		}
		fx.cancel(candidateTimeoutKey(order.ID, input.AgentID))

		ok, err := e.commitAssignment(ctx, r, order, input.AgentID, enums.AssignmentAcceptedByAgent, false, outbox.AgentActor(input.AgentID.String()), fx)
		if err != nil {
			return Result{Method: method}, err
		}
		if !ok {
			return Result{}, errAgentAtCapacity
		}
		e.metrics.ObserveResolution("accepted")
		result := withAgent(StatusAssigned, input.AgentID)
		result.Method = method
		return result, nil
	}

	moved, err := r.orders.TransitionCandidate(ctx, candidate.ID, enums.OutstandingCandidateStatuses, map[string]any{
		"status":       enums.CandidateRejected,
		"is_current":   false,
		"responded_at": now,
	})
	if err != nil {
		return Result{}, err
	}
	if !moved {
		return Result{Status: StatusTooLate, Method: method}, nil
	}
	fx.cancel(candidateTimeoutKey(order.ID, input.AgentID))

	rejection := &models.AgentRejection{OrderID: order.ID, AgentID: input.AgentID, RejectedAt: now}
	if input.Reason != "" {
		reason := input.Reason
		rejection.Reason = &reason
	}
	if err := r.orders.AddRejection(ctx, rejection); err != nil {
		return Result{}, err
	}
	e.metrics.ObserveResolution("rejected")
	fx.publish(realtime.OrderRoom(order.ID), EventCandidateResolved, map[string]any{
		"agent_id": input.AgentID,
		"status":   enums.CandidateRejected,
	})

	var result Result
	if method == enums.AllocationBroadcast {
		result, err = e.closeBroadcastIfDrained(ctx, r, order, now, fx)
	} else {
		result, err = e.advance(ctx, r, order, fx)
	}
	result.Method = method
	return result, err
}

// closeBroadcastIfDrained returns the order to awaiting_agent_assignment once
// every broadcast offer has been answered.
func (e *Engine) closeBroadcastIfDrained(ctx context.Context, r repos, order *models.Order, now time.Time, fx *effects) (Result, error) {
	remaining, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
	if err != nil {
		return Result{}, err
	}
	if len(remaining) > 0 {
		return Result{Status: StatusRejected, Notified: len(remaining)}, nil
	}
	err = r.orders.UpdateOrder(ctx, order.ID, map[string]any{
		"agent_assignment_status": enums.AssignmentAwaitingAgentAssignment,
		"last_allocation_at":      now,
	})
	if err != nil {
		return Result{}, err
	}
	fx.cancel(broadcastExpiryKey(order.ID))
	return Result{Status: StatusNoMoreCandidates}, nil
}

// CandidateTimeout closes an offer whose response window elapsed and cascades
// to the next candidate. Firing twice, after a response, or after the order
// was cancelled is a no-op.
func (e *Engine) CandidateTimeout(ctx context.Context, payload CandidateTimeoutPayload) (Result, error) {
	ctx = e.logg.WithOrderID(ctx, payload.OrderID.String())
	ctx = e.logg.WithAgentID(ctx, payload.AgentID.String())

	result, err := e.run(ctx, payload.OrderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		if order.IsTerminated() {
			return Result{Status: StatusOrderClosed, Method: method}, nil
		}
		if order.IsAssigned() {
			return Result{Status: StatusAlreadyAssigned, Method: method}, nil
		}

		candidate := findCandidate(order, payload.CandidateID)
		if candidate == nil {
			found, err := r.orders.FindCandidate(ctx, order.ID, payload.AgentID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return Result{}, err
			}
			candidate = found
		}
		if candidate == nil || candidate.RespondedAt != nil || !candidate.Status.IsOutstanding() {
			return Result{Status: StatusTooLate, Method: method}, nil
		}

		now := e.now()
		moved, err := r.orders.TransitionCandidate(ctx, candidate.ID, enums.OutstandingCandidateStatuses, map[string]any{
			"status":       enums.CandidateTimedOut,
			"is_current":   false,
			"responded_at": now,
		})
		if err != nil {
			return Result{}, err
		}
		if !moved {
			return Result{Status: StatusTooLate, Method: method}, nil
		}
		e.metrics.ObserveResolution("timed_out")
		fx.publish(realtime.OrderRoom(order.ID), EventCandidateResolved, map[string]any{
			"agent_id": candidate.AgentID,
			"status":   enums.CandidateTimedOut,
		})

		var result Result
		if method == enums.AllocationBroadcast {
			result, err = e.closeBroadcastIfDrained(ctx, r, order, now, fx)
		} else {
			result, err = e.advance(ctx, r, order, fx)
		}
		result.Method = method
		return result, err
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		e.logg.Warn(ctx, "timeout fired for missing order")
		return Result{Status: StatusOrderClosed}, nil
	}
	e.observe("candidate_timeout", result, err)
	return result, err
}

// HandleCandidateTimeout is the scheduler entry point for JobCandidateTimeout.
// Only storage failures are returned so the scheduler retries them.
func (e *Engine) HandleCandidateTimeout(ctx context.Context, payload json.RawMessage) error {
	decoded, err := decodePayload[CandidateTimeoutPayload](payload)
	if err != nil {
		e.logg.Error(ctx, "dropping malformed candidate timeout", err)
		return nil
	}
	_, err = e.CandidateTimeout(ctx, decoded)
	return retryable(err)
}

// BroadcastExpiry closes every unanswered broadcast offer and returns the
// order to awaiting_agent_assignment for the sweep to retry.
func (e *Engine) BroadcastExpiry(ctx context.Context, payload BroadcastExpiryPayload) (Result, error) {
	ctx = e.logg.WithOrderID(ctx, payload.OrderID.String())

	result, err := e.run(ctx, payload.OrderID, func(r repos, order *models.Order, fx *effects) (Result, error) {
		method := e.methodFor(order)
		switch {
		case order.IsTerminated():
			return Result{Status: StatusOrderClosed, Method: method}, nil
		case order.IsAssigned():
			return Result{Status: StatusAlreadyAssigned, Method: method}, nil
		case payload.Round != 0 && payload.Round != order.AllocationRound:
			return Result{Status: StatusTooLate, Method: method}, nil
		}

		now := e.now()
		outstanding, err := r.orders.ListOutstandingCandidates(ctx, order.ID)
		if err != nil {
			return Result{}, err
		}
		expired := 0
		for _, c := range outstanding {
			moved, err := r.orders.TransitionCandidate(ctx, c.ID, []enums.CandidateStatus{enums.CandidateSent}, map[string]any{
				"status":       enums.CandidateTimedOut,
				"responded_at": now,
			})
			if err != nil {
				return Result{}, err
			}
			if moved {
				expired++
				fx.publish(realtime.AgentRoom(c.AgentID), EventOfferWithdrawn, map[string]any{"order_id": order.ID.String()})
			}
		}
		e.metrics.ObserveResolution("broadcast_expired")

		err = r.orders.UpdateOrder(ctx, order.ID, map[string]any{
			"agent_assignment_status": enums.AssignmentAwaitingAgentAssignment,
			"last_allocation_at":      now,
		})
		if err != nil {
			return Result{}, err
		}
		fx.publish(realtime.OrderRoom(order.ID), EventBroadcastExpired, map[string]any{"expired": expired})
		return Result{Status: StatusNoMoreCandidates, Method: method, Notified: expired}, nil
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		e.logg.Warn(ctx, "broadcast expiry fired for missing order")
		return Result{Status: StatusOrderClosed}, nil
	}
	e.observe("broadcast_expiry", result, err)
	return result, err
}

// HandleBroadcastExpiry is the scheduler entry point for JobBroadcastExpiry.
func (e *Engine) HandleBroadcastExpiry(ctx context.Context, payload json.RawMessage) error {
	decoded, err := decodePayload[BroadcastExpiryPayload](payload)
	if err != nil {
		e.logg.Error(ctx, "dropping malformed broadcast expiry", err)
		return nil
	}
	_, err = e.BroadcastExpiry(ctx, decoded)
	return retryable(err)
}

func retryable(err error) error {
	if err == nil || !pkgerrors.IsRetryable(err) {
		return nil
	}
	return err
}
