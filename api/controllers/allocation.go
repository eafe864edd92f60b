package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fooddash-backend/api/responses"
	"github.com/angelmondragon/fooddash-backend/api/validators"
	"github.com/angelmondragon/fooddash-backend/internal/allocation"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

// AllocationService is the slice of the allocation engine the HTTP layer uses.
type AllocationService interface {
	Assign(ctx context.Context, orderID uuid.UUID) (allocation.Result, error)
	Respond(ctx context.Context, input allocation.RespondInput) (allocation.Result, error)
	ManualAssign(ctx context.Context, input allocation.ManualAssignInput) (allocation.Result, error)
	Reassign(ctx context.Context, orderID uuid.UUID, reason string) (allocation.Result, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (allocation.Result, error)
	CompleteDelivery(ctx context.Context, orderID uuid.UUID) (allocation.Result, error)
	State(ctx context.Context, orderID uuid.UUID) (*allocation.StateView, error)
}

type candidateView struct {
	ID             uuid.UUID             `json:"id"`
	AgentID        uuid.UUID             `json:"agent_id"`
	Round          int                   `json:"round"`
	Position       int                   `json:"position"`
	Status         enums.CandidateStatus `json:"status"`
	DistanceMeters float64               `json:"distance_meters"`
	IsCurrent      bool                  `json:"is_current"`
	NotifiedAt     *time.Time            `json:"notified_at,omitempty"`
	RespondedAt    *time.Time            `json:"responded_at,omitempty"`
	AssignedAt     *time.Time            `json:"assigned_at,omitempty"`
}

type allocationView struct {
	OrderID          uuid.UUID                   `json:"order_id"`
	State            string                      `json:"state"`
	Method           enums.AllocationMethod      `json:"method"`
	AssignmentStatus enums.AgentAssignmentStatus `json:"assignment_status"`
	AssignedAgentID  *uuid.UUID                  `json:"assigned_agent_id,omitempty"`
	CurrentAgentID   *uuid.UUID                  `json:"current_agent_id,omitempty"`
	CandidateID      *uuid.UUID                  `json:"candidate_id,omitempty"`
	Deadline         *time.Time                  `json:"deadline,omitempty"`
	Outstanding      int                         `json:"outstanding"`
	Round            int                         `json:"round"`
	Candidates       []candidateView             `json:"candidates"`
}

func newAllocationView(view *allocation.StateView) allocationView {
	out := allocationView{
		OrderID:          view.Order.ID,
		State:            view.State.Kind(),
		Method:           view.Order.AllocationMethod,
		AssignmentStatus: view.Order.AgentAssignmentStatus,
		AssignedAgentID:  view.Order.AssignedAgentID,
		Round:            view.Order.AllocationRound,
		Candidates:       make([]candidateView, 0, len(view.Candidates)),
	}
	if awaiting, ok := view.State.(allocation.AwaitingResponse); ok {
		out.Deadline = awaiting.Deadline
		out.Outstanding = awaiting.Outstanding
		if awaiting.AgentID != uuid.Nil {
			agentID, candidateID := awaiting.AgentID, awaiting.CandidateID
			out.CurrentAgentID = &agentID
			out.CandidateID = &candidateID
		}
	}
	for _, c := range view.Candidates {
		out.Candidates = append(out.Candidates, newCandidateView(c))
	}
	return out
}

func newCandidateView(c models.AgentCandidate) candidateView {
	return candidateView{
		ID:             c.ID,
		AgentID:        c.AgentID,
		Round:          c.Round,
		Position:       c.Position,
		Status:         c.Status,
		DistanceMeters: c.DistanceMeters,
		IsCurrent:      c.IsCurrent,
		NotifiedAt:     c.NotifiedAt,
		RespondedAt:    c.RespondedAt,
		AssignedAt:     c.AssignedAt,
	}
}

// resolvedError turns a no-op outcome into the 409 the caller must see.
func resolvedError(result allocation.Result) error {
	switch result.Status {
	case allocation.StatusTooLate:
		return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "offer already resolved").WithDetails(result)
	case allocation.StatusAlreadyAssigned:
		return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "order already assigned").WithDetails(result)
	case allocation.StatusOrderClosed:
		return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "order is closed").WithDetails(result)
	}
	return nil
}

// AllocateOrder runs the order's allocation strategy. An order with no nearby
// agents is still a 200 with status unassigned.
func AllocateOrder(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Assign(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func OrderAllocation(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.State(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAllocationView(view))
	}
}

func CancelOrder(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CancelOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := resolvedError(result); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CompleteDelivery marks the order delivered and frees the agent's slot. An
// order that is already closed is a 409.
func CompleteDelivery(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CompleteDelivery(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := resolvedError(result); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type respondRequest struct {
	AgentID  string `json:"agent_id" validate:"required,uuid"`
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
	Reason   string `json:"reason" validate:"max=280"`
}

// AgentRespond records an agent's accept or reject. Answers that lost a race
// come back as 409 ALREADY_RESOLVED.
func AgentRespond(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body respondRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agentID, err := uuid.Parse(body.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid agent_id"))
			return
		}

		result, err := svc.Respond(r.Context(), allocation.RespondInput{
			OrderID:  orderID,
			AgentID:  agentID,
			Decision: enums.AgentDecision(body.Decision),
			Reason:   validators.SanitizeString(body.Reason, 280),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := resolvedError(result); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
