package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fooddash-backend/api/responses"
	"github.com/angelmondragon/fooddash-backend/api/validators"
	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/internal/notifications"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

// AgentInbox is the read side of agent notifications.
type AgentInbox interface {
	List(ctx context.Context, params notifications.ListParams) ([]models.AgentNotification, error)
	MarkRead(ctx context.Context, agentID, notificationID uuid.UUID) error
}

type agentView struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Status            enums.AgentStatus `json:"status"`
	Lat               float64           `json:"lat"`
	Lng               float64           `json:"lng"`
	LocationUpdatedAt *time.Time        `json:"location_updated_at,omitempty"`
	CurrentOrderCount int               `json:"current_order_count"`
	MaxActiveOrders   int               `json:"max_active_orders"`
	CurrentCODHolding string            `json:"current_cod_holding"`
	MaxCODAmount      string            `json:"max_cod_amount"`
}

func newAgentView(a *models.Agent) agentView {
	return agentView{
		ID:                a.ID,
		Name:              a.Name,
		Status:            a.Status,
		Lat:               a.Lat,
		Lng:               a.Lng,
		LocationUpdatedAt: a.LocationUpdatedAt,
		CurrentOrderCount: a.CurrentOrderCount,
		MaxActiveOrders:   a.MaxActiveOrders,
		CurrentCODHolding: a.CurrentCODHolding.StringFixed(2),
		MaxCODAmount:      a.MaxCODAmount.StringFixed(2),
	}
}

type notificationView struct {
	ID             uuid.UUID              `json:"id"`
	OrderID        *uuid.UUID             `json:"order_id,omitempty"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Data           json.RawMessage        `json:"data,omitempty"`
	DeliveryResult enums.DeliveryResult   `json:"delivery_result"`
	ReadAt         *time.Time             `json:"read_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func newNotificationViews(rows []models.AgentNotification) []notificationView {
	out := make([]notificationView, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationView{
			ID:             n.ID,
			OrderID:        n.OrderID,
			Type:           n.Type,
			Title:          n.Title,
			Body:           n.Body,
			Data:           n.Data,
			DeliveryResult: n.DeliveryResult,
			ReadAt:         n.ReadAt,
			CreatedAt:      n.CreatedAt,
		})
	}
	return out
}

func AgentUpdateLocation(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "agents service unavailable"))
			return
		}
		agentID, err := validators.ParseURLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body agents.LocationInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		agent, err := svc.UpdateLocation(r.Context(), agentID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAgentView(agent))
	}
}

// AgentUpdateStatus flips availability. Going offline does not touch any
// outstanding offer; the offer simply times out.
func AgentUpdateStatus(svc agents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "agents service unavailable"))
			return
		}
		agentID, err := validators.ParseURLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body agents.StatusInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		agent, err := svc.UpdateStatus(r.Context(), agentID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAgentView(agent))
	}
}

func AgentNotifications(inbox AgentInbox, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inbox == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		agentID, err := validators.ParseURLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unread")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := inbox.List(r.Context(), notifications.ListParams{
			AgentID:    agentID,
			Limit:      limit,
			UnreadOnly: unreadOnly,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newNotificationViews(rows))
	}
}

func AgentMarkNotificationRead(inbox AgentInbox, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if inbox == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		agentID, err := validators.ParseURLUUID(r, "agentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notificationID, err := validators.ParseURLUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := inbox.MarkRead(r.Context(), agentID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"read": true})
	}
}
