package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fooddash-backend/internal/allocation"
	"github.com/angelmondragon/fooddash-backend/pkg/config"
	"github.com/angelmondragon/fooddash-backend/pkg/db"
	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeAllocation struct {
	assignCalls int
	operator    string
	delivered   uuid.UUID
}

func (f *fakeAllocation) Assign(context.Context, uuid.UUID) (allocation.Result, error) {
	f.assignCalls++
	return allocation.Result{Status: allocation.StatusFirstAgentNotified}, nil
}

func (f *fakeAllocation) Respond(context.Context, allocation.RespondInput) (allocation.Result, error) {
	return allocation.Result{Status: allocation.StatusAssigned}, nil
}

func (f *fakeAllocation) ManualAssign(_ context.Context, input allocation.ManualAssignInput) (allocation.Result, error) {
	f.operator = input.OperatorID
	return allocation.Result{Status: allocation.StatusAssigned, AgentID: &input.AgentID}, nil
}

func (f *fakeAllocation) Reassign(context.Context, uuid.UUID, string) (allocation.Result, error) {
	return allocation.Result{Status: allocation.StatusFirstAgentNotified}, nil
}

func (f *fakeAllocation) CancelOrder(context.Context, uuid.UUID) (allocation.Result, error) {
	return allocation.Result{Status: allocation.StatusCancelled}, nil
}

func (f *fakeAllocation) CompleteDelivery(_ context.Context, orderID uuid.UUID) (allocation.Result, error) {
	f.delivered = orderID
	agentID := uuid.New()
	return allocation.Result{Status: allocation.StatusDelivered, AgentID: &agentID}, nil
}

func (f *fakeAllocation) State(context.Context, uuid.UUID) (*allocation.StateView, error) {
	return &allocation.StateView{State: allocation.Idle{}}, nil
}

func testRouter(t *testing.T, ping pingerFunc, alloc *fakeAllocation) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: &strings.Builder{}})
	var dbP db.Pinger
	if ping != nil {
		dbP = ping
	}
	return NewRouter(cfg, logg, dbP, nil, prometheus.NewRegistry(), Services{Allocation: alloc})
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, nil, &fakeAllocation{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-FoodDash-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	rec := httptest.NewRecorder()
	testRouter(t, down, &fakeAllocation{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"db":"down"`)
}

func TestHealthReadyOK(t *testing.T) {
	up := pingerFunc(func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	testRouter(t, up, &fakeAllocation{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"db":"up"`)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, nil, &fakeAllocation{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAllocateRoute(t *testing.T) {
	alloc := &fakeAllocation{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/allocate", nil)
	testRouter(t, nil, alloc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, alloc.assignCalls)
	assert.Contains(t, rec.Body.String(), string(allocation.StatusFirstAgentNotified))
}

func TestDeliverRoute(t *testing.T) {
	alloc := &fakeAllocation{}
	orderID := uuid.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/deliver", nil)
	testRouter(t, nil, alloc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, alloc.delivered)
	assert.Contains(t, rec.Body.String(), string(allocation.StatusDelivered))
}

func TestAdminAssignRouteCarriesOperator(t *testing.T) {
	alloc := &fakeAllocation{}
	body := `{"agent_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/"+uuid.NewString()+"/assign", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-Id", "dispatcher-1")
	rec := httptest.NewRecorder()
	testRouter(t, nil, alloc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dispatcher-1", alloc.operator)
}

func TestUnknownRouteIs404(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, nil, &fakeAllocation{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/carts", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRoutesWithoutServiceFail(t *testing.T) {
	body := `{"lat":12.97,"lng":77.59}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/agent/"+uuid.NewString()+"/location", strings.NewReader(body))
	rec := httptest.NewRecorder()
	testRouter(t, nil, &fakeAllocation{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
