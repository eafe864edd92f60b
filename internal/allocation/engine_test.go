package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/internal/notifications"
	"github.com/angelmondragon/fooddash-backend/internal/orders"
	"github.com/angelmondragon/fooddash-backend/internal/realtime"
	"github.com/angelmondragon/fooddash-backend/internal/scheduler"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	pkgdb "github.com/angelmondragon/fooddash-backend/pkg/db"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/angelmondragon/fooddash-backend/pkg/metrics"
	"github.com/angelmondragon/fooddash-backend/pkg/outbox"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
)

var restaurant = types.GeographyPoint{Lat: 12.9716, Lng: 77.5946}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notifications.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notifications.Message) enums.DeliveryResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return enums.DeliveryDelivered
}

func (n *recordingNotifier) count(agentID uuid.UUID, kind enums.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, msg := range n.messages {
		if msg.AgentID == agentID && msg.Type == kind {
			total++
		}
	}
	return total
}

func (n *recordingNotifier) total(kind enums.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, msg := range n.messages {
		if msg.Type == kind {
			total++
		}
	}
	return total
}

type harness struct {
	t        *testing.T
	db       *gorm.DB
	engine   *Engine
	sched    *scheduler.Scheduler
	store    *scheduler.MemoryStore
	clock    *testClock
	notifier *recordingNotifier
	broker   *realtime.MemoryBroker
	orders   orders.Repository
}

func testConfig() config.AllocationConfig {
	return config.AllocationConfig{
		DefaultMethod:              "one_by_one",
		ResponseTimeout:            20 * time.Second,
		SearchRadiusMeters:         50000,
		CandidateLimit:             10,
		BroadcastLimit:             500,
		AcceptanceGracePeriod:      5 * time.Minute,
		AssignmentGracePeriod:      30 * time.Minute,
		EscalationRadiusMultiplier: 2,
		SweepBatchSize:             100,
	}
}

func newHarness(t *testing.T, mutate func(*config.AllocationConfig)) *harness {
	t.Helper()
	db := sqlitetest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "allocation-test", Level: logger.ParseLevel("error")})
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	store := scheduler.NewMemoryStore()
	sched, err := scheduler.New(scheduler.Params{
		Store:        store,
		Logger:       logg,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
		Now:          clock.Now,
	})
	require.NoError(t, err)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	notifier := &recordingNotifier{}
	broker := realtime.NewMemoryBroker()
	ordersRepo := orders.NewRepository(db)

	engine, err := NewEngine(Params{
		Tx:        pkgdb.NewFromConn(db),
		Orders:    ordersRepo,
		Agents:    agents.NewRepository(db),
		Notifier:  notifier,
		Realtime:  broker,
		Scheduler: sched,
		Outbox:    outbox.NewService(outbox.NewRepository(db), logg),
		Metrics:   metrics.NewAllocationMetrics(prometheus.NewRegistry()),
		Logger:    logg,
		Config:    cfg,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, engine.RegisterJobs(sched.Registry()))

	return &harness{
		t:        t,
		db:       db,
		engine:   engine,
		sched:    sched,
		store:    store,
		clock:    clock,
		notifier: notifier,
		broker:   broker,
		orders:   ordersRepo,
	}
}

func (h *harness) seedAgent(northMeters float64, mutate func(*models.Agent)) models.Agent {
	h.t.Helper()
	agent := models.Agent{
		Name:                    "rider",
		Status:                  enums.AgentStatusAvailable,
		Lat:                     restaurant.Lat + northMeters/111195.0,
		Lng:                     restaurant.Lng,
		CanAcceptOrRejectOrders: true,
		MaxCODAmount:            decimal.NewFromInt(5000),
	}
	if mutate != nil {
		mutate(&agent)
	}
	require.NoError(h.t, h.db.Create(&agent).Error)
	return agent
}

func (h *harness) seedOrder(mutate func(*models.Order)) models.Order {
	h.t.Helper()
	order := models.Order{
		RestaurantID:          uuid.New(),
		CustomerID:            uuid.New(),
		Status:                enums.OrderStatusPlaced,
		RestaurantLat:         restaurant.Lat,
		RestaurantLng:         restaurant.Lng,
		PaymentMethod:         enums.PaymentMethodOnline,
		TotalAmount:           decimal.NewFromInt(250),
		AllocationMethod:      enums.AllocationOneByOne,
		AgentAssignmentStatus: enums.AssignmentUnassigned,
	}
	if mutate != nil {
		mutate(&order)
	}
	_, err := h.orders.Create(context.Background(), &order)
	require.NoError(h.t, err)
	return order
}

func (h *harness) order(id uuid.UUID) *models.Order {
	h.t.Helper()
	order, err := h.orders.FindByID(context.Background(), id)
	require.NoError(h.t, err)
	return order
}

func (h *harness) agent(id uuid.UUID) models.Agent {
	h.t.Helper()
	var agent models.Agent
	require.NoError(h.t, h.db.Where("id = ?", id).First(&agent).Error)
	return agent
}

func (h *harness) candidate(orderID, agentID uuid.UUID) models.AgentCandidate {
	h.t.Helper()
	c, err := h.orders.FindCandidate(context.Background(), orderID, agentID)
	require.NoError(h.t, err)
	return *c
}

func (h *harness) expire() int {
	h.t.Helper()
	h.clock.Advance(testConfig().ResponseTimeout + time.Second)
	ran, err := h.sched.RunDue(context.Background())
	require.NoError(h.t, err)
	return ran
}

func (h *harness) outboxCount(eventType enums.OutboxEventType) int64 {
	h.t.Helper()
	var count int64
	require.NoError(h.t, h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestOneByOneCascadeRejectTimeoutAccept(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(1000, nil)
	b := h.seedAgent(2000, nil)
	c := h.seedAgent(3000, nil)
	order := h.seedOrder(nil)

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFirstAgentNotified, res.Status)
	require.NotNil(t, res.AgentID)
	assert.Equal(t, a.ID, *res.AgentID)

	first := h.candidate(order.ID, a.ID)
	assert.Equal(t, enums.CandidatePending, first.Status)
	assert.True(t, first.IsCurrent)
	assert.Equal(t, enums.CandidateQueued, h.candidate(order.ID, b.ID).Status)
	assert.Equal(t, enums.CandidateQueued, h.candidate(order.ID, c.ID).Status)
	assert.Equal(t, enums.AssignmentAwaitingAgentAcceptance, h.order(order.ID).AgentAssignmentStatus)
	assert.Equal(t, 1, h.store.Len())

	res, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionReject, Reason: "too far"})
	require.NoError(t, err)
	assert.Equal(t, StatusNextAgentNotified, res.Status)
	assert.Equal(t, b.ID, *res.AgentID)
	assert.Equal(t, enums.CandidateRejected, h.candidate(order.ID, a.ID).Status)
	second := h.candidate(order.ID, b.ID)
	assert.Equal(t, enums.CandidatePending, second.Status)
	assert.True(t, second.IsCurrent)
	assert.Equal(t, []uuid.UUID{a.ID}, h.order(order.ID).RejectedAgentIDs())

	assert.Equal(t, 1, h.expire())
	timedOut := h.candidate(order.ID, b.ID)
	assert.Equal(t, enums.CandidateTimedOut, timedOut.Status)
	assert.NotNil(t, timedOut.RespondedAt)
	assert.False(t, timedOut.IsCurrent)
	third := h.candidate(order.ID, c.ID)
	assert.Equal(t, enums.CandidatePending, third.Status)
	assert.True(t, third.IsCurrent)

	res, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: c.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)

	stored := h.order(order.ID)
	require.NotNil(t, stored.AssignedAgentID)
	assert.Equal(t, c.ID, *stored.AssignedAgentID)
	assert.Equal(t, enums.AssignmentAcceptedByAgent, stored.AgentAssignmentStatus)
	assert.Equal(t, enums.CandidateAccepted, h.candidate(order.ID, c.ID).Status)
	assert.Equal(t, 1, h.agent(c.ID).CurrentOrderCount)
	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderAgentAssigned))

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.expire())
	assert.Equal(t, 3, h.notifier.total(enums.NotificationTypeOrderOffer))
	assert.Equal(t, 1, h.notifier.count(c.ID, enums.NotificationTypeOrderAssigned))
}

func TestAssignWithoutNearbyAgentsLeavesStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAgent(80000, nil)
	order := h.seedOrder(nil)

	res, err := h.engine.Assign(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUnassigned, res.Status)
	assert.Equal(t, ReasonNoAgentsNearby, res.Reason)

	stored := h.order(order.ID)
	assert.Equal(t, enums.AssignmentUnassigned, stored.AgentAssignmentStatus)
	assert.Empty(t, stored.Candidates)
	assert.Equal(t, 0, h.store.Len())
}

func TestAcceptRacingTimeoutResolvesOnce(t *testing.T) {
	for i := 0; i < 10; i++ {
		h := newHarness(t, nil)
		ctx := context.Background()
		a := h.seedAgent(500, nil)
		b := h.seedAgent(900, nil)
		order := h.seedOrder(nil)

		_, err := h.engine.Assign(ctx, order.ID)
		require.NoError(t, err)
		pending := h.candidate(order.ID, a.ID)

		var (
			wg         sync.WaitGroup
			acceptRes  Result
			timeoutRes Result
			acceptErr  error
			timeoutErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptRes, acceptErr = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionAccept})
		}()
		go func() {
			defer wg.Done()
			timeoutRes, timeoutErr = h.engine.CandidateTimeout(ctx, CandidateTimeoutPayload{OrderID: order.ID, AgentID: a.ID, CandidateID: pending.ID})
		}()
		wg.Wait()
		require.NoError(t, acceptErr)
		require.NoError(t, timeoutErr)

		stored := h.order(order.ID)
		resolved := h.candidate(order.ID, a.ID)
		if acceptRes.Status == StatusAssigned {
			assert.Equal(t, StatusAlreadyAssigned, timeoutRes.Status)
			assert.Equal(t, enums.CandidateAccepted, resolved.Status)
			require.NotNil(t, stored.AssignedAgentID)
			assert.Equal(t, a.ID, *stored.AssignedAgentID)
			assert.Equal(t, enums.CandidateSuperseded, h.candidate(order.ID, b.ID).Status)
		} else {
			assert.Equal(t, StatusTooLate, acceptRes.Status)
			assert.Equal(t, StatusNextAgentNotified, timeoutRes.Status)
			assert.Equal(t, enums.CandidateTimedOut, resolved.Status)
			assert.Nil(t, stored.AssignedAgentID)
			assert.Equal(t, enums.CandidatePending, h.candidate(order.ID, b.ID).Status)
		}

		accepted := 0
		for _, c := range stored.Candidates {
			if c.Status == enums.CandidateAccepted {
				accepted++
			}
		}
		assert.LessOrEqual(t, accepted, 1)
	}
}

func TestTimeoutAfterResponseIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	b := h.seedAgent(900, nil)
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	pending := h.candidate(order.ID, a.ID)

	res, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusNextAgentNotified, res.Status)

	payload := CandidateTimeoutPayload{OrderID: order.ID, AgentID: a.ID, CandidateID: pending.ID}
	for i := 0; i < 2; i++ {
		res, err = h.engine.CandidateTimeout(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, StatusTooLate, res.Status)
	}
	assert.Equal(t, enums.CandidatePending, h.candidate(order.ID, b.ID).Status)
	assert.Equal(t, 1, h.notifier.count(b.ID, enums.NotificationTypeOrderOffer))

	late, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusTooLate, late.Status)
}

func TestCascadeTerminatesWhenEveryoneTimesOut(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seeded := []models.Agent{h.seedAgent(500, nil), h.seedAgent(900, nil), h.seedAgent(1300, nil)}
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	for range seeded {
		assert.Equal(t, 1, h.expire())
	}

	stored := h.order(order.ID)
	assert.Equal(t, enums.AssignmentAwaitingAgentAcceptance, stored.AgentAssignmentStatus)
	assert.Nil(t, stored.AssignedAgentID)
	for _, c := range stored.Candidates {
		assert.Equal(t, enums.CandidateTimedOut, c.Status)
		assert.False(t, c.IsCurrent)
	}

	last := h.candidate(order.ID, seeded[2].ID)
	res, err := h.engine.CandidateTimeout(ctx, CandidateTimeoutPayload{OrderID: order.ID, AgentID: seeded[2].ID, CandidateID: last.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusTooLate, res.Status)
	assert.Equal(t, 0, h.store.Len())
}

func TestLastRejectionReturnsNoMoreCandidates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)

	res, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusNoMoreCandidates, res.Status)
	assert.Equal(t, enums.AssignmentAwaitingAgentAcceptance, h.order(order.ID).AgentAssignmentStatus)
}

func TestRejectingAgentIsNeverOfferedAgain(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	b := h.seedAgent(900, nil)
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionReject})
	require.NoError(t, err)

	res, err := h.engine.RestartStale(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFirstAgentNotified, res.Status)
	assert.Equal(t, b.ID, *res.AgentID)

	stored := h.order(order.ID)
	assert.Equal(t, 2, stored.AllocationRound)
	for _, c := range stored.Candidates {
		if c.Round == 2 {
			assert.NotEqual(t, a.ID, c.AgentID)
		}
	}
	assert.Equal(t, 1, h.notifier.count(a.ID, enums.NotificationTypeOrderOffer))
}

func TestAssignSkipsAgentsWithoutCapacity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seedAgent(100, func(a *models.Agent) {
		a.MaxActiveOrders = 1
		a.CurrentOrderCount = 1
	})
	h.seedAgent(200, func(a *models.Agent) {
		a.MaxCODAmount = decimal.NewFromInt(1000)
		a.CurrentCODHolding = decimal.NewFromInt(800)
	})
	roomy := h.seedAgent(300, func(a *models.Agent) {
		a.MaxActiveOrders = 3
		a.CurrentOrderCount = 2
	})
	order := h.seedOrder(func(o *models.Order) {
		o.PaymentMethod = enums.PaymentMethodCash
		o.TotalAmount = decimal.NewFromInt(250)
	})

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFirstAgentNotified, res.Status)
	stored := h.order(order.ID)
	require.Len(t, stored.Candidates, 1)
	assert.Equal(t, roomy.ID, stored.Candidates[0].AgentID)

	_, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: roomy.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	agent := h.agent(roomy.ID)
	assert.Equal(t, 3, agent.CurrentOrderCount)
	assert.True(t, agent.CurrentCODHolding.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, enums.AgentStatusOrderAssigned, agent.Status)
}

func TestAssignIsIdempotentOnceAssigned(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	h.seedAgent(900, nil)
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationNearest })

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, a.ID, *res.AgentID)
	before := len(h.order(order.ID).Candidates)

	for i := 0; i < 2; i++ {
		res, err = h.engine.Assign(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyAssigned, res.Status)
	}
	stored := h.order(order.ID)
	assert.Len(t, stored.Candidates, before)
	assert.Equal(t, enums.AssignmentAssigned, stored.AgentAssignmentStatus)
	assert.Equal(t, 1, h.agent(a.ID).CurrentOrderCount)
	assert.Equal(t, 0, h.store.Len())
}

func TestAssignWhileOffersOutstandingIsInProgress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, res.Status)
	assert.Equal(t, 1, h.notifier.count(a.ID, enums.NotificationTypeOrderOffer))
}

func TestAgentWithoutChoiceIsAutoAccepted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	auto := h.seedAgent(500, func(a *models.Agent) { a.CanAcceptOrRejectOrders = false })
	h.seedAgent(900, nil)
	order := h.seedOrder(nil)

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, auto.ID, *res.AgentID)

	stored := h.order(order.ID)
	assert.Equal(t, enums.AssignmentAutoAccepted, stored.AgentAssignmentStatus)
	for _, c := range stored.Candidates {
		if c.AgentID == auto.ID {
			assert.Equal(t, enums.CandidateAccepted, c.Status)
			assert.Nil(t, c.RespondedAt)
		} else {
			assert.Equal(t, enums.CandidateSuperseded, c.Status)
		}
	}
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.notifier.total(enums.NotificationTypeOrderOffer))
}

func TestBroadcastFirstAcceptWins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	riders := []models.Agent{h.seedAgent(300, nil), h.seedAgent(600, nil), h.seedAgent(900, nil)}
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationBroadcast })

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBroadcasted, res.Status)
	assert.Equal(t, 3, res.Notified)
	for _, rider := range riders {
		assert.Equal(t, enums.CandidateSent, h.candidate(order.ID, rider.ID).Status)
		assert.Equal(t, 1, h.notifier.count(rider.ID, enums.NotificationTypeOrderOffer))
	}

	results := make([]Result, len(riders))
	var wg sync.WaitGroup
	for i, rider := range riders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: rider.ID, Decision: enums.AgentDecisionAccept})
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r.Status == StatusAssigned {
			winners++
		} else {
			assert.Contains(t, []ResultStatus{StatusAlreadyAssigned, StatusTooLate}, r.Status)
		}
	}
	assert.Equal(t, 1, winners)

	stored := h.order(order.ID)
	require.NotNil(t, stored.AssignedAgentID)
	totalOrders := 0
	for _, rider := range riders {
		c := h.candidate(order.ID, rider.ID)
		if rider.ID == *stored.AssignedAgentID {
			assert.Equal(t, enums.CandidateAccepted, c.Status)
		} else {
			assert.Equal(t, enums.CandidateSuperseded, c.Status)
		}
		totalOrders += h.agent(rider.ID).CurrentOrderCount
	}
	assert.Equal(t, 1, totalOrders)
	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderAgentAssigned))
}

func TestBroadcastExpiryReturnsOrderToAssignment(t *testing.T) {
	h := newHarness(t, func(cfg *config.AllocationConfig) { cfg.BroadcastExpiry = 15 * time.Second })
	ctx := context.Background()
	a := h.seedAgent(300, nil)
	b := h.seedAgent(600, nil)
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationBroadcast })

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.Len())

	_, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionReject})
	require.NoError(t, err)

	assert.Equal(t, 1, h.expire())
	assert.Equal(t, enums.CandidateRejected, h.candidate(order.ID, a.ID).Status)
	assert.Equal(t, enums.CandidateTimedOut, h.candidate(order.ID, b.ID).Status)
	assert.Equal(t, enums.AssignmentAwaitingAgentAssignment, h.order(order.ID).AgentAssignmentStatus)

	late, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: b.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusTooLate, late.Status)
}

func TestRoundRobinPrefersLeastRecentlyAssigned(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	recent := h.clock.Now().Add(-time.Minute)
	older := h.clock.Now().Add(-time.Hour)
	h.seedAgent(100, func(a *models.Agent) { a.LastAssignedAt = &recent })
	idle := h.seedAgent(2000, func(a *models.Agent) { a.LastAssignedAt = &older })
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationRoundRobin })

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, idle.ID, *res.AgentID)

	agent := h.agent(idle.ID)
	require.NotNil(t, agent.LastAssignedAt)
	assert.True(t, agent.LastAssignedAt.Equal(h.clock.Now()))
}

func TestManualMethodWaitsForOperator(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	full := h.seedAgent(500, func(a *models.Agent) {
		a.MaxActiveOrders = 1
		a.CurrentOrderCount = 1
	})
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationManual })

	res, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusManualPending, res.Status)

	res, err = h.engine.ManualAssign(ctx, ManualAssignInput{OrderID: order.ID, AgentID: full.ID, OperatorID: "ops-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, enums.AssignmentManuallyAssigned, h.order(order.ID).AgentAssignmentStatus)
	assert.Equal(t, 2, h.agent(full.ID).CurrentOrderCount)

	other := h.seedAgent(900, nil)
	res, err = h.engine.ManualAssign(ctx, ManualAssignInput{OrderID: order.ID, AgentID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyAssigned, res.Status)
	assert.Equal(t, 0, h.agent(other.ID).CurrentOrderCount)
}

func TestManualAssignSupersedesOutstandingOffer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(500, nil)
	operatorPick := h.seedAgent(40000, nil)
	order := h.seedOrder(nil)

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)

	_, err = h.engine.ManualAssign(ctx, ManualAssignInput{OrderID: order.ID, AgentID: operatorPick.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.CandidateSuperseded, h.candidate(order.ID, a.ID).Status)
	assert.Equal(t, 0, h.store.Len())

	late, err := h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyAssigned, late.Status)
}

func TestReassignReleasesAndPicksAnotherAgent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.seedAgent(300, nil)
	second := h.seedAgent(600, nil)
	order := h.seedOrder(func(o *models.Order) {
		o.AllocationMethod = enums.AllocationNearest
		o.PaymentMethod = enums.PaymentMethodCash
	})

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.agent(first.ID).CurrentOrderCount)

	res, err := h.engine.Reassign(ctx, order.ID, "vehicle breakdown")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, second.ID, *res.AgentID)

	released := h.agent(first.ID)
	assert.Equal(t, 0, released.CurrentOrderCount)
	assert.True(t, released.CurrentCODHolding.IsZero())
	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderAgentReleased))
	assert.Equal(t, 1, h.notifier.count(first.ID, enums.NotificationTypeOrderReleased))
}

func TestReassignWithNobodyElseLeavesOrderReassigned(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	only := h.seedAgent(300, nil)
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationNearest })

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)

	res, err := h.engine.Reassign(ctx, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusUnassigned, res.Status)

	stored := h.order(order.ID)
	assert.Nil(t, stored.AssignedAgentID)
	assert.Equal(t, enums.AssignmentReassigned, stored.AgentAssignmentStatus)
	assert.Equal(t, 0, h.agent(only.ID).CurrentOrderCount)
}

func TestCompleteDeliveryFreesAgentSlot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rider := h.seedAgent(300, func(a *models.Agent) { a.MaxActiveOrders = 1 })
	nearest := func(o *models.Order) {
		o.AllocationMethod = enums.AllocationNearest
		o.PaymentMethod = enums.PaymentMethodCash
		o.TotalAmount = decimal.NewFromInt(250)
	}
	first := h.seedOrder(nearest)
	second := h.seedOrder(nearest)

	res, err := h.engine.Assign(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, enums.AgentStatusOrderAssigned, h.agent(rider.ID).Status)

	res, err = h.engine.Assign(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUnassigned, res.Status)
	assert.Equal(t, ReasonNoAgentsNearby, res.Reason)

	res, err = h.engine.CompleteDelivery(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	require.NotNil(t, res.AgentID)
	assert.Equal(t, rider.ID, *res.AgentID)
	assert.Equal(t, enums.OrderStatusDelivered, h.order(first.ID).Status)
	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderDelivered))

	freed := h.agent(rider.ID)
	assert.Equal(t, 0, freed.CurrentOrderCount)
	assert.Equal(t, enums.AgentStatusAvailable, freed.Status)
	assert.True(t, freed.CurrentCODHolding.Equal(decimal.NewFromInt(250)), "cash stays held until remitted")

	res, err = h.engine.Assign(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	require.NotNil(t, res.AgentID)
	assert.Equal(t, rider.ID, *res.AgentID)
}

func TestCompleteDeliveryIsOneShot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rider := h.seedAgent(300, nil)
	order := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationNearest })
	waiting := h.seedOrder(func(o *models.Order) { o.AllocationMethod = enums.AllocationManual })

	_, err := h.engine.CompleteDelivery(ctx, waiting.ID)
	assert.Error(t, err, "an order without an agent cannot be delivered")

	_, err = h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	res, err := h.engine.CompleteDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)

	res, err = h.engine.CompleteDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOrderClosed, res.Status)
	assert.Equal(t, 0, h.agent(rider.ID).CurrentOrderCount)
	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderDelivered))
}

func TestCancelStopsTheCascade(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(300, nil)
	b := h.seedAgent(600, nil)
	order := h.seedOrder(nil)

	events, unsubscribe := h.broker.Subscribe(realtime.OrderRoom(order.ID))
	defer unsubscribe()

	_, err := h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	pending := h.candidate(order.ID, a.ID)

	res, err := h.engine.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, enums.CandidateSuperseded, h.candidate(order.ID, a.ID).Status)
	assert.Equal(t, enums.CandidateSuperseded, h.candidate(order.ID, b.ID).Status)

	res, err = h.engine.CandidateTimeout(ctx, CandidateTimeoutPayload{OrderID: order.ID, AgentID: a.ID, CandidateID: pending.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusOrderClosed, res.Status)
	assert.Equal(t, 0, h.notifier.count(b.ID, enums.NotificationTypeOrderOffer))

	res, err = h.engine.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOrderClosed, res.Status)

	seen := map[string]bool{}
	for len(events) > 0 {
		seen[(<-events).Event] = true
	}
	assert.True(t, seen[EventCandidateNotified])
	assert.True(t, seen[EventOrderCancelled])
}

func TestTimeoutForMissingOrderIsBenign(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.CandidateTimeout(context.Background(), CandidateTimeoutPayload{OrderID: uuid.New(), AgentID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, StatusOrderClosed, res.Status)

	assert.NoError(t, h.engine.HandleCandidateTimeout(context.Background(), []byte(`not json`)))
}

func TestEscalateOncePerWindow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	order := h.seedOrder(nil)

	events, unsubscribe := h.broker.Subscribe(realtime.OperatorsRoom)
	defer unsubscribe()

	input := EscalateInput{
		OrderID:      order.ID,
		Reason:       "no agents after expanded search",
		RadiusMeters: 100000,
		NotSince:     h.clock.Now().Add(-30 * time.Minute),
	}
	escalated, err := h.engine.Escalate(ctx, input)
	require.NoError(t, err)
	assert.True(t, escalated)

	h.clock.Advance(time.Minute)
	input.NotSince = h.clock.Now().Add(-30 * time.Minute)
	escalated, err = h.engine.Escalate(ctx, input)
	require.NoError(t, err)
	assert.False(t, escalated)

	assert.Equal(t, int64(1), h.outboxCount(enums.EventOrderAllocationEscalated))
	require.Len(t, events, 1)
	assert.Equal(t, EventAllocationEscalated, (<-events).Event)
}

func TestStateReflectsProtocol(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seedAgent(300, nil)
	order := h.seedOrder(nil)

	view, err := h.engine.State(ctx, order.ID)
	require.NoError(t, err)
	assert.IsType(t, Idle{}, view.State)

	_, err = h.engine.Assign(ctx, order.ID)
	require.NoError(t, err)
	view, err = h.engine.State(ctx, order.ID)
	require.NoError(t, err)
	awaiting, ok := view.State.(AwaitingResponse)
	require.True(t, ok)
	assert.Equal(t, a.ID, awaiting.AgentID)
	require.NotNil(t, awaiting.Deadline)
	assert.True(t, awaiting.Deadline.Equal(h.clock.Now().Add(20*time.Second)))

	_, err = h.engine.Respond(ctx, RespondInput{OrderID: order.ID, AgentID: a.ID, Decision: enums.AgentDecisionAccept})
	require.NoError(t, err)
	view, err = h.engine.State(ctx, order.ID)
	require.NoError(t, err)
	resolved, ok := view.State.(Resolved)
	require.True(t, ok)
	assert.Equal(t, a.ID, resolved.AgentID)
	assert.Equal(t, "resolved", view.State.Kind())
}

func TestRespondValidatesInput(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Respond(context.Background(), RespondInput{OrderID: uuid.New(), AgentID: uuid.New(), Decision: "maybe"})
	assert.Error(t, err)

	order := h.seedOrder(nil)
	_, err = h.engine.Respond(context.Background(), RespondInput{OrderID: order.ID, AgentID: uuid.New(), Decision: enums.AgentDecisionAccept})
	assert.ErrorIs(t, err, errNoOffer)
}
