package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fooddash-backend/api/middleware"
	"github.com/angelmondragon/fooddash-backend/api/responses"
	"github.com/angelmondragon/fooddash-backend/api/validators"
	"github.com/angelmondragon/fooddash-backend/internal/allocation"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

type manualAssignRequest struct {
	AgentID string `json:"agent_id" validate:"required,uuid"`
}

// AdminAssignOrder lets an operator hand the order to a specific agent.
func AdminAssignOrder(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
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
		var body manualAssignRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		agentID, err := uuid.Parse(body.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid agent_id"))
			return
		}

		result, err := svc.ManualAssign(r.Context(), allocation.ManualAssignInput{
			OrderID:    orderID,
			AgentID:    agentID,
			OperatorID: middleware.OperatorIDFromContext(r.Context()),
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

type reassignRequest struct {
	Reason string `json:"reason" validate:"max=280"`
}

// AdminReassignOrder releases the assigned agent and allocates again.
func AdminReassignOrder(svc AllocationService, logg *logger.Logger) http.HandlerFunc {
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
		var body reassignRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Reassign(r.Context(), orderID, validators.SanitizeString(body.Reason, 280))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Status == allocation.StatusOrderClosed {
			responses.WriteError(r.Context(), logg, w, resolvedError(result))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
