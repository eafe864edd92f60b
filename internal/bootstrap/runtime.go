// Package bootstrap wires the allocation engine and its collaborators from
// configuration so every binary builds the same graph.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/internal/allocation"
	"github.com/angelmondragon/fooddash-backend/internal/cron"
	"github.com/angelmondragon/fooddash-backend/internal/notifications"
	"github.com/angelmondragon/fooddash-backend/internal/orders"
	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/internal/scheduler"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	"github.com/angelmondragon/fooddash-backend/pkg/db"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/angelmondragon/fooddash-backend/pkg/metrics"
	"github.com/angelmondragon/fooddash-backend/pkg/migrate"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
	pkgpubsub "github.com/angelmondragon/fooddash-backend/pkg/pubsub"
	"github.com/angelmondragon/fooddash-backend/pkg/redis"
)

// Runtime holds the long-lived clients of one process.
type Runtime struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	PubSub   *pkgpubsub.Client
	Registry *prometheus.Registry

	Orders        orders.Repository
	Agents        agents.Service
	Notifications notifications.Service
	Broker        realtime.Broker
	Scheduler     *scheduler.Scheduler
	Engine        *allocation.Engine

	redisBroker      *realtime.RedisBroker
	notificationRepo notifications.Repository
	outboxRepo       *outbox.Repository
	sharedJobs       bool
	cronMetrics      *metrics.CronJobMetrics
}

// New connects to every configured dependency and builds the engine. Redis and
// Pub/Sub are optional; without Redis timers live in process memory.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	rt := &Runtime{Config: cfg, Logger: logg, Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	rt.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("run dev migrations: %w", err)
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.Redis = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; timers and realtime events stay in this process")
	}

	if cfg.PubSub.Enabled(cfg.GCP) {
		psClient, err := pkgpubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		rt.PubSub = psClient
	}

	if err := rt.wire(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context) error {
	cfg, logg := rt.Config, rt.Logger
	conn := rt.DB.DB()

	if rt.Redis != nil {
		broker, err := realtime.NewRedisBroker(rt.Redis, logg)
		if err != nil {
			return err
		}
		rt.redisBroker = broker
		rt.Broker = broker
	} else {
		rt.Broker = realtime.NewMemoryBroker()
	}

	store, shared, err := rt.jobStore()
	if err != nil {
		return err
	}
	rt.sharedJobs = shared
	sched, err := scheduler.New(scheduler.Params{
		Store:        store,
		Logger:       logg,
		Metrics:      metrics.NewSchedulerMetrics(rt.Registry),
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	rt.Scheduler = sched

	agentRepo := agents.NewRepository(conn)
	agentSvc, err := agents.NewService(agentRepo)
	if err != nil {
		return err
	}
	rt.Agents = agentSvc

	push, err := rt.pushSender()
	if err != nil {
		return err
	}
	rt.notificationRepo = notifications.NewRepository(conn)
	notifySvc, err := notifications.NewService(notifications.ServiceParams{
		Repo:   rt.notificationRepo,
		Agents: agentRepo,
		Push:   push,
		Logger: logg,
	})
	if err != nil {
		return err
	}
	rt.Notifications = notifySvc

	rt.Orders = orders.NewRepository(conn)
	rt.outboxRepo = outbox.NewRepository(conn)
	engine, err := allocation.NewEngine(allocation.Params{
		Tx:        rt.DB,
		Orders:    rt.Orders,
		Agents:    agentRepo,
		Notifier:  notifySvc,
		Realtime:  rt.Broker,
		Scheduler: sched,
		Outbox:    outbox.NewService(rt.outboxRepo, logg),
		Metrics:   metrics.NewAllocationMetrics(rt.Registry),
		Logger:    logg,
		Config:    cfg.Allocation,
	})
	if err != nil {
		return fmt.Errorf("create allocation engine: %w", err)
	}
	if err := engine.RegisterJobs(sched.Registry()); err != nil {
		return fmt.Errorf("register allocation jobs: %w", err)
	}
	rt.Engine = engine

	logg.Info(logg.WithFields(ctx, map[string]any{
		"scheduler_store": storeName(shared),
		"default_method":  cfg.Allocation.DefaultMethod,
	}), "allocation engine wired")
	return nil
}

func (rt *Runtime) jobStore() (scheduler.Store, bool, error) {
	if strings.EqualFold(rt.Config.Scheduler.Store, config.SchedulerStoreRedis) && rt.Redis != nil {
		store, err := scheduler.NewRedisStore(rt.Redis, rt.Config.Scheduler.LeaseTTL)
		if err != nil {
			return nil, false, fmt.Errorf("create redis job store: %w", err)
		}
		return store, true, nil
	}
	return scheduler.NewMemoryStore(), false, nil
}

func (rt *Runtime) pushSender() (notifications.PushSender, error) {
	if rt.PubSub == nil || strings.TrimSpace(rt.Config.PubSub.AgentPushTopic) == "" {
		return notifications.NewLogPushSender(rt.Logger), nil
	}
	sender, err := notifications.NewPubSubPushSender(pkgpubsub.WrapPublisher(rt.PubSub.AgentPushPublisher()))
	if err != nil {
		return nil, fmt.Errorf("create push sender: %w", err)
	}
	return sender, nil
}

// SharedJobs reports whether timers are stored where a separate worker can
// fire them. When false the process that schedules must also run them.
func (rt *Runtime) SharedJobs() bool {
	return rt.sharedJobs
}

// CronMetrics lazily registers the sweep metrics on the runtime registry.
func (rt *Runtime) CronMetrics() *metrics.CronJobMetrics {
	if rt.cronMetrics == nil {
		rt.cronMetrics = metrics.NewCronJobMetrics(rt.Registry)
	}
	return rt.cronMetrics
}

// RunRealtimeRelay forwards Redis room events to local websocket clients. With
// an in-process broker it only waits for ctx.
func (rt *Runtime) RunRealtimeRelay(ctx context.Context) error {
	if rt.redisBroker == nil {
		<-ctx.Done()
		return nil
	}
	return rt.redisBroker.Run(ctx)
}

// Close releases every client that was opened.
func (rt *Runtime) Close(ctx context.Context) {
	var err error
	if rt.PubSub != nil {
		err = multierr.Append(err, rt.PubSub.Close())
	}
	if rt.Redis != nil {
		err = multierr.Append(err, rt.Redis.Close())
	}
	if rt.DB != nil {
		err = multierr.Append(err, rt.DB.Close())
	}
	if err != nil {
		rt.Logger.Error(ctx, "error closing runtime clients", err)
	}
}

func storeName(shared bool) string {
	if shared {
		return config.SchedulerStoreRedis
	}
	return config.SchedulerStoreMemory
}

// CronService builds the periodic jobs: the reassignment sweep plus inbox and
// outbox housekeeping. Replicas coordinate through a Redis lock when Redis is
// configured.
func (rt *Runtime) CronService(lockKey string) (*cron.Service, error) {
	var lock cron.Lock
	if rt.Redis != nil {
		redisLock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(lockKey), rt.Config.Sweep.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("create cron lock: %w", err)
		}
		lock = redisLock
	} else {
		lock = &cron.LocalLock{}
	}

	sweep, err := cron.NewReassignmentSweepJob(cron.ReassignmentSweepJobParams{
		Logger:    rt.Logger,
		Orders:    rt.Orders,
		Allocator: rt.Engine,
		Config:    rt.Config.Allocation,
	})
	if err != nil {
		return nil, fmt.Errorf("create reassignment sweep: %w", err)
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     rt.Logger,
		DB:         rt.DB,
		Repository: rt.notificationRepo,
		Retention:  rt.Config.Retention.NotificationDays,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification cleanup: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      rt.Logger,
		DB:          rt.DB,
		Repository:  rt.outboxRepo,
		Retention:   rt.Config.Retention.OutboxDays,
		MinAttempts: rt.Config.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create outbox retention: %w", err)
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: cron.NewRegistry(sweep, cleanup, retention),
		Lock:     lock,
		Metrics:  rt.CronMetrics(),
		Interval: rt.Config.Sweep.Interval,
	})
}
