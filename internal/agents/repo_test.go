package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/angelmondragon/fooddash-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var restaurant = types.GeographyPoint{Lat: 12.9716, Lng: 77.5946}

func seedAgent(t *testing.T, db *gorm.DB, name string, northMeters float64, mutate func(*models.Agent)) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		Name:                    name,
		Status:                  enums.AgentStatusAvailable,
		Lat:                     restaurant.Lat + northMeters/111195.0,
		Lng:                     restaurant.Lng,
		CanAcceptOrRejectOrders: true,
	}
	if mutate != nil {
		mutate(agent)
	}
	require.NoError(t, db.Create(agent).Error)
	return agent
}

func TestRepositoryFindNearbyOrdersByDistance(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	far := seedAgent(t, db, "far", 3000, nil)
	near := seedAgent(t, db, "near", 500, nil)
	mid := seedAgent(t, db, "mid", 1500, nil)
	seedAgent(t, db, "outside", 20000, nil)
	seedAgent(t, db, "offline", 100, func(a *models.Agent) { a.Status = enums.AgentStatusOffline })
	seedAgent(t, db, "busy", 200, func(a *models.Agent) { a.Status = enums.AgentStatusOrderAssigned })

	got, err := repo.FindNearby(ctx, NearbyQuery{Center: restaurant, RadiusMeters: 5000, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, near.ID, got[0].Agent.ID)
	assert.Equal(t, mid.ID, got[1].Agent.ID)
	assert.Equal(t, far.ID, got[2].Agent.ID)
	assert.InDelta(t, 500, got[0].DistanceMeters, 5)
}

func TestRepositoryFindNearbyAppliesExclusionsAndLimit(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := seedAgent(t, db, "a", 100, nil)
	b := seedAgent(t, db, "b", 200, nil)
	c := seedAgent(t, db, "c", 300, nil)
	seedAgent(t, db, "full", 50, func(a *models.Agent) {
		a.MaxActiveOrders = 1
		a.CurrentOrderCount = 1
	})

	got, err := repo.FindNearby(ctx, NearbyQuery{
		Center:       restaurant,
		RadiusMeters: 5000,
		ExcludeIDs:   []uuid.UUID{a.ID},
		Limit:        1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].Agent.ID)

	all, err := repo.FindNearby(ctx, NearbyQuery{Center: restaurant, RadiusMeters: 5000})
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, n := range all {
		ids = append(ids, n.Agent.ID)
	}
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids)
}

func TestRepositoryFindNearbyFiltersCODCapacity(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)

	roomy := seedAgent(t, db, "roomy", 100, func(a *models.Agent) {
		a.MaxCODAmount = decimal.NewFromInt(500)
		a.CurrentCODHolding = decimal.NewFromInt(100)
	})
	seedAgent(t, db, "tight", 50, func(a *models.Agent) {
		a.MaxCODAmount = decimal.NewFromInt(200)
		a.CurrentCODHolding = decimal.NewFromInt(150)
	})
	seedAgent(t, db, "no-cash", 10, nil)

	got, err := repo.FindNearby(context.Background(), NearbyQuery{
		Center:       restaurant,
		RadiusMeters: 5000,
		CODAmount:    decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, roomy.ID, got[0].Agent.ID)
}

func TestRepositoryReserveCapacityHonoursCap(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	agent := seedAgent(t, db, "capped", 100, func(a *models.Agent) { a.MaxActiveOrders = 2 })

	ok, err := repo.ReserveCapacity(ctx, agent.ID, decimal.Zero, now)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentOrderCount)
	assert.Equal(t, enums.AgentStatusAvailable, loaded.Status)
	require.NotNil(t, loaded.LastAssignedAt)

	ok, err = repo.ReserveCapacity(ctx, agent.ID, decimal.Zero, now)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err = repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentOrderCount)
	assert.Equal(t, enums.AgentStatusOrderAssigned, loaded.Status)

	ok, err = repo.ReserveCapacity(ctx, agent.ID, decimal.Zero, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryReserveCapacityUnlimited(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agent := seedAgent(t, db, "unlimited", 100, nil)
	for i := 0; i < 5; i++ {
		ok, err := repo.ReserveCapacity(ctx, agent.ID, decimal.Zero, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)
	}

	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.CurrentOrderCount)
	assert.Equal(t, enums.AgentStatusAvailable, loaded.Status)
}

func TestRepositoryReserveCapacityChecksCOD(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	agent := seedAgent(t, db, "cash", 100, func(a *models.Agent) {
		a.MaxCODAmount = decimal.NewFromInt(100)
		a.CurrentCODHolding = decimal.NewFromInt(80)
	})

	ok, err := repo.ReserveCapacity(ctx, agent.ID, decimal.NewFromInt(20), now)
	require.NoError(t, err)
	assert.False(t, ok, "holding + amount must stay strictly under the cap")

	ok, err = repo.ReserveCapacity(ctx, agent.ID, decimal.NewFromInt(15), now)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, loaded.CurrentCODHolding.Equal(decimal.NewFromInt(95)), "holding %s", loaded.CurrentCODHolding)

	noCash := seedAgent(t, db, "no-cash", 100, nil)
	ok, err = repo.ReserveCapacity(ctx, noCash.ID, decimal.NewFromInt(1), now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryReserveCapacityConcurrent(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agent := seedAgent(t, db, "contended", 100, func(a *models.Agent) { a.MaxActiveOrders = 2 })

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ReserveCapacity(ctx, agent.ID, decimal.Zero, time.Now().UTC())
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, granted)
	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentOrderCount)
}

func TestRepositoryReleaseCapacity(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agent := seedAgent(t, db, "release", 100, func(a *models.Agent) {
		a.Status = enums.AgentStatusOrderAssigned
		a.MaxActiveOrders = 1
		a.CurrentOrderCount = 1
		a.MaxCODAmount = decimal.NewFromInt(100)
		a.CurrentCODHolding = decimal.NewFromInt(40)
	})

	require.NoError(t, repo.ReleaseCapacity(ctx, agent.ID, decimal.NewFromInt(40)))
	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentOrderCount)
	assert.True(t, loaded.CurrentCODHolding.IsZero())
	assert.Equal(t, enums.AgentStatusAvailable, loaded.Status)

	require.NoError(t, repo.ReleaseCapacity(ctx, agent.ID, decimal.NewFromInt(40)))
	loaded, err = repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentOrderCount)
	assert.True(t, loaded.CurrentCODHolding.IsZero())
}

func TestRepositoryForceReserveIgnoresCaps(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agent := seedAgent(t, db, "forced", 100, func(a *models.Agent) {
		a.MaxActiveOrders = 1
		a.CurrentOrderCount = 1
		a.Status = enums.AgentStatusOrderAssigned
	})

	require.NoError(t, repo.ForceReserve(ctx, agent.ID, decimal.Zero, time.Now().UTC()))
	loaded, err := repo.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentOrderCount)

	err = repo.ForceReserve(ctx, uuid.New(), decimal.Zero, time.Now().UTC())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
