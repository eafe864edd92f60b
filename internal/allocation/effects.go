package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fooddash-backend/internal/notifications"
	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

// Realtime event names.
const (
	EventCandidateNotified   = "candidate_notified"
	EventCandidateResolved   = "candidate_resolved"
	EventOrderOffered        = "order_offered"
	EventOfferWithdrawn      = "offer_withdrawn"
	EventAgentAssigned       = "agent_assigned"
	EventAgentReleased       = "agent_released"
	EventBroadcastExpired    = "broadcast_expired"
	EventAllocationRestarted = "allocation_restarted"
	EventAllocationEscalated = "allocation_escalated"
	EventOrderCancelled      = "order_cancelled"
	EventOrderDelivered      = "order_delivered"
)

const notifyConcurrency = 16

type roomEvent struct {
	room    string
	event   string
	payload any
}

type pendingJob struct {
	name    string
	key     string
	delay   time.Duration
	payload any
}

// effects collects work that must only happen after the transaction commits.
type effects struct {
	messages []notifications.Message
	events   []roomEvent
	jobs     []pendingJob
	cancels  []string
}

func (fx *effects) notify(msg notifications.Message) {
	fx.messages = append(fx.messages, msg)
}

func (fx *effects) publish(room, event string, payload any) {
	fx.events = append(fx.events, roomEvent{room: room, event: event, payload: payload})
}

func (fx *effects) schedule(name, key string, delay time.Duration, payload any) {
	fx.jobs = append(fx.jobs, pendingJob{name: name, key: key, delay: delay, payload: payload})
}

func (fx *effects) cancel(key string) {
	fx.cancels = append(fx.cancels, key)
}

// orderRooms are the rooms watching an order's assignment status.
func orderRooms(order *models.Order) []string {
	return []string{
		realtime.OrderRoom(order.ID),
		realtime.RestaurantRoom(order.RestaurantID),
		realtime.CustomerRoom(order.CustomerID),
	}
}

func (fx *effects) publishOrder(order *models.Order, event string, payload any) {
	for _, room := range orderRooms(order) {
		fx.publish(room, event, payload)
	}
}

func (fx *effects) offer(order *models.Order, candidate models.AgentCandidate, expiresAt *time.Time) {
	orderID := order.ID
	data := map[string]any{
		"order_id":     order.ID.String(),
		"candidate_id": candidate.ID.String(),
		"method":       order.AllocationMethod,
		"distance_m":   candidate.DistanceMeters,
	}
	if expiresAt != nil {
		data["expires_at"] = expiresAt.Format(time.RFC3339)
	}
	fx.notify(notifications.Message{
		AgentID: candidate.AgentID,
		OrderID: &orderID,
		Type:    enums.NotificationTypeOrderOffer,
		Title:   "New delivery request",
		Body:    "A new order is waiting for pickup near you.",
		Data:    data,
	})
	fx.publish(realtime.AgentRoom(candidate.AgentID), EventOrderOffered, data)
	fx.publish(realtime.OrderRoom(order.ID), EventCandidateNotified, map[string]any{
		"agent_id": candidate.AgentID,
		"round":    candidate.Round,
		"position": candidate.Position,
	})
}

func (fx *effects) assigned(order *models.Order, agentID uuid.UUID, status enums.AgentAssignmentStatus) {
	orderID := order.ID
	payload := map[string]any{
		"order_id":                order.ID.String(),
		"agent_id":                agentID.String(),
		"agent_assignment_status": status,
	}
	fx.notify(notifications.Message{
		AgentID: agentID,
		OrderID: &orderID,
		Type:    enums.NotificationTypeOrderAssigned,
		Title:   "Order assigned",
		Body:    "You have a new delivery.",
		Data:    payload,
	})
	fx.publishOrder(order, EventAgentAssigned, payload)
	fx.publish(realtime.AgentRoom(agentID), EventAgentAssigned, payload)
}

func (fx *effects) released(order *models.Order, agentID uuid.UUID, reason string) {
	orderID := order.ID
	payload := map[string]any{
		"order_id": order.ID.String(),
		"agent_id": agentID.String(),
		"reason":   reason,
	}
	fx.notify(notifications.Message{
		AgentID: agentID,
		OrderID: &orderID,
		Type:    enums.NotificationTypeOrderReleased,
		Title:   "Order released",
		Body:    "An order was removed from your queue.",
		Data:    payload,
	})
	fx.publishOrder(order, EventAgentReleased, payload)
	fx.publish(realtime.AgentRoom(agentID), EventAgentReleased, payload)
}

// flush runs the collected effects. Notifications and realtime events are
// best effort; only scheduler failures are returned.
func (e *Engine) flush(ctx context.Context, fx *effects) error {
	var err error
	for _, key := range fx.cancels {
		if cancelErr := e.scheduler.Cancel(ctx, key); cancelErr != nil {
			e.logg.Error(e.logg.WithField(ctx, "job_key", key), "failed to cancel allocation timer", cancelErr)
		}
	}

	if len(fx.messages) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(notifyConcurrency)
		for _, msg := range fx.messages {
			g.Go(func() error {
				result := e.notifier.Notify(gctx, msg)
				if result != enums.DeliveryDelivered {
					logCtx := e.logg.WithAgentID(ctx, msg.AgentID.String())
					e.logg.Warn(e.logg.WithField(logCtx, "delivery_result", result), "agent notification not delivered")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, job := range fx.jobs {
		if scheduleErr := e.scheduler.Schedule(ctx, job.name, job.key, job.delay, job.payload); scheduleErr != nil {
			err = multierr.Append(err, scheduleErr)
		}
	}

	for _, evt := range fx.events {
		if pubErr := e.realtime.Publish(ctx, evt.room, evt.event, evt.payload); pubErr != nil {
			e.logg.Error(e.logg.WithField(ctx, "room", evt.room), "failed to publish realtime event", pubErr)
		}
	}
	return err
}
