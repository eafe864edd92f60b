package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fooddash-backend/api/controllers"
	"github.com/angelmondragon/fooddash-backend/api/middleware"
	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	"github.com/angelmondragon/fooddash-backend/pkg/db"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/angelmondragon/fooddash-backend/pkg/redis"
)

// Services groups what the HTTP layer calls into.
type Services struct {
	Allocation    controllers.AllocationService
	Agents        agents.Service
	Notifications controllers.AgentInbox
	Realtime      http.Handler
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	deps := map[string]controllers.Pinger{"db": dbP}
	var idem redis.IdempotencyStore
	if redisClient != nil {
		deps["redis"] = redisClient
		idem = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if svc.Realtime != nil {
		r.Handle("/ws", svc.Realtime)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idem, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/allocate", controllers.AllocateOrder(svc.Allocation, logg))
			r.Get("/allocation", controllers.OrderAllocation(svc.Allocation, logg))
			r.Post("/cancel", controllers.CancelOrder(svc.Allocation, logg))
			r.Post("/deliver", controllers.CompleteDelivery(svc.Allocation, logg))
		})

		r.Route("/agent", func(r chi.Router) {
			r.Post("/orders/{orderId}/respond", controllers.AgentRespond(svc.Allocation, logg))
			r.Route("/{agentId}", func(r chi.Router) {
				r.Put("/location", controllers.AgentUpdateLocation(svc.Agents, logg))
				r.Put("/status", controllers.AgentUpdateStatus(svc.Agents, logg))
				r.Get("/notifications", controllers.AgentNotifications(svc.Notifications, logg))
				r.Post("/notifications/{notificationId}/read", controllers.AgentMarkNotificationRead(svc.Notifications, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Operator())
		r.Use(middleware.Idempotency(idem, logg))
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/allocation", controllers.OrderAllocation(svc.Allocation, logg))
			r.Post("/assign", controllers.AdminAssignOrder(svc.Allocation, logg))
			r.Post("/reassign", controllers.AdminReassignOrder(svc.Allocation, logg))
		})
	})

	return r
}
