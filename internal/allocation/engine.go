package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/internal/notifications"
	"github.com/angelmondragon/fooddash-backend/internal/orders"
	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/internal/scheduler"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fooddash-backend/pkg/errors"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/angelmondragon/fooddash-backend/pkg/metrics"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type jobScheduler interface {
	Schedule(ctx context.Context, name, key string, delay time.Duration, payload any) error
	Cancel(ctx context.Context, key string) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the delivery-agent allocation engine.
type Service interface {
	Assign(ctx context.Context, orderID uuid.UUID) (Result, error)
	AssignWithOptions(ctx context.Context, orderID uuid.UUID, opts AssignOptions) (Result, error)
	Respond(ctx context.Context, input RespondInput) (Result, error)
	CandidateTimeout(ctx context.Context, payload CandidateTimeoutPayload) (Result, error)
	BroadcastExpiry(ctx context.Context, payload BroadcastExpiryPayload) (Result, error)
	HandleCandidateTimeout(ctx context.Context, payload json.RawMessage) error
	HandleBroadcastExpiry(ctx context.Context, payload json.RawMessage) error
	ManualAssign(ctx context.Context, input ManualAssignInput) (Result, error)
	Reassign(ctx context.Context, orderID uuid.UUID, reason string) (Result, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (Result, error)
	CompleteDelivery(ctx context.Context, orderID uuid.UUID) (Result, error)
	RestartStale(ctx context.Context, orderID uuid.UUID) (Result, error)
	Escalate(ctx context.Context, input EscalateInput) (bool, error)
	State(ctx context.Context, orderID uuid.UUID) (*StateView, error)
	RegisterJobs(registry *scheduler.Registry) error
}

// AssignOptions override the configured search for one attempt.
type AssignOptions struct {
	RadiusMeters    float64
	ExcludeAgentIDs []uuid.UUID
}

// RespondInput is an agent's decision on an offer.
type RespondInput struct {
	OrderID  uuid.UUID
	AgentID  uuid.UUID
	Decision enums.AgentDecision
	Reason   string
}

// ManualAssignInput is an operator override.
type ManualAssignInput struct {
	OrderID    uuid.UUID
	AgentID    uuid.UUID
	OperatorID string
}

// EscalateInput describes a stuck order handed to operators.
type EscalateInput struct {
	OrderID      uuid.UUID
	Reason       string
	RadiusMeters float64
	// NotSince suppresses the alert if the order was escalated at or after it.
	NotSince time.Time
}

// Params wires the engine's collaborators.
type Params struct {
	Tx        txRunner
	Orders    orders.Repository
	Agents    agents.Repository
	Notifier  notifications.Notifier
	Realtime  realtime.Publisher
	Scheduler jobScheduler
	Outbox    outboxEmitter
	Metrics   *metrics.AllocationMetrics
	Logger    *logger.Logger
	Config    config.AllocationConfig
	Now       func() time.Time
}

// Engine implements Service.
type Engine struct {
	tx        txRunner
	orders    orders.Repository
	agents    agents.Repository
	notifier  notifications.Notifier
	realtime  realtime.Publisher
	scheduler jobScheduler
	outbox    outboxEmitter
	metrics   *metrics.AllocationMetrics
	logg      *logger.Logger
	cfg       config.AllocationConfig
	now       func() time.Time
}

var _ Service = (*Engine)(nil)

var (
	errOrderNotFound   = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	errAgentNotFound   = pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	errNoOffer         = pkgerrors.New(pkgerrors.CodeNotFound, "agent was not offered this order")
	errAgentAtCapacity = pkgerrors.New(pkgerrors.CodeConflict, "agent has no capacity for this order")
	errNotAssigned     = pkgerrors.New(pkgerrors.CodeStateConflict, "order has no assigned agent")

	// errAlreadyAssigned rolls back a transaction that lost the assignment
	// race; callers see StatusAlreadyAssigned.
	errAlreadyAssigned = errors.New("order already assigned")
)

// NewEngine builds the allocation engine.
func NewEngine(params Params) (*Engine, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Agents == nil:
		return nil, fmt.Errorf("agents repository required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Realtime == nil:
		return nil, fmt.Errorf("realtime publisher required")
	case params.Scheduler == nil:
		return nil, fmt.Errorf("scheduler required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.ResponseTimeout <= 0 {
		return nil, fmt.Errorf("response timeout must be positive")
	}
	if params.Config.SearchRadiusMeters <= 0 {
		return nil, fmt.Errorf("search radius must be positive")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		tx:        params.Tx,
		orders:    params.Orders,
		agents:    params.Agents,
		notifier:  params.Notifier,
		realtime:  params.Realtime,
		scheduler: params.Scheduler,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       params.Config,
		now:       now,
	}, nil
}

// RegisterJobs binds the timer handlers to their job names.
func (e *Engine) RegisterJobs(registry *scheduler.Registry) error {
	if registry == nil {
		return fmt.Errorf("job registry required")
	}
	if err := registry.Register(JobCandidateTimeout, e.HandleCandidateTimeout); err != nil {
		return err
	}
	return registry.Register(JobBroadcastExpiry, e.HandleBroadcastExpiry)
}

// repos are the repositories bound to one transaction.
type repos struct {
	tx     *gorm.DB
	orders orders.Repository
	agents agents.Repository
}

type stepFunc func(r repos, order *models.Order, fx *effects) (Result, error)

// run loads the order inside a transaction that holds its row, applies step
// and flushes the collected effects once the transaction commits.
func (e *Engine) run(ctx context.Context, orderID uuid.UUID, step stepFunc) (Result, error) {
	var (
		result Result
		fx     effects
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := repos{tx: tx, orders: e.orders.WithTx(tx), agents: e.agents.WithTx(tx)}
		locked, err := r.orders.LockForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !locked {
			return errOrderNotFound
		}
		order, err := r.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		result, err = step(r, order, &fx)
		return err
	})
	if errors.Is(err, errAlreadyAssigned) {
		return Result{Status: StatusAlreadyAssigned, Method: result.Method}, nil
	}
	if err != nil {
		return Result{}, mapError(err)
	}
	if err := e.flush(ctx, &fx); err != nil {
		e.logg.Error(ctx, "allocation committed but timers were not scheduled", err)
		return failed(result.Method, err), pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule allocation timers")
	}
	return result, nil
}

func mapError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "record not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocation storage failure")
}

func (e *Engine) observe(op string, result Result, err error) {
	method := string(result.Method)
	if method == "" {
		method = op
	}
	status := string(result.Status)
	if err != nil && status == "" {
		status = string(StatusFailed)
	}
	e.metrics.ObserveResult(method, status)
}

// State returns the derived allocation state of an order.
func (e *Engine) State(ctx context.Context, orderID uuid.UUID) (*StateView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errOrderNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &StateView{
		State:      deriveState(*order, e.cfg.ResponseTimeout, e.cfg.BroadcastExpiry),
		Order:      *order,
		Candidates: order.Candidates,
	}, nil
}

func (e *Engine) methodFor(order *models.Order) enums.AllocationMethod {
	if order.AllocationMethod.IsValid() {
		return order.AllocationMethod
	}
	if method, err := enums.ParseAllocationMethod(e.cfg.DefaultMethod); err == nil {
		return method
	}
	return enums.AllocationOneByOne
}

func hasOutstanding(order *models.Order) bool {
	for _, c := range order.Candidates {
		if c.Status.IsOutstanding() {
			return true
		}
	}
	return false
}

func findCandidate(order *models.Order, id uuid.UUID) *models.AgentCandidate {
	for i := range order.Candidates {
		if order.Candidates[i].ID == id {
			return &order.Candidates[i]
		}
	}
	return nil
}
