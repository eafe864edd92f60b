package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

func TestEmitStoresEnvelopeAndResolves(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	orderID, agentID := uuid.New(), uuid.New()
	assignedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderAgentAssigned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         AgentActor(agentID.String()),
			Data: AgentAssignedEvent{
				OrderID:          orderID,
				AgentID:          agentID,
				Method:           enums.AllocationOneByOne,
				AssignmentStatus: enums.AssignmentAcceptedByAgent,
				AssignedAt:       assignedAt,
			},
		})
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, rows, 1)

	envelope, data, err := NewAllocationRegistry().Resolve(rows[0])
	require.NoError(t, err)
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, "agent", envelope.Actor.Kind)

	event, ok := data.(*AgentAssignedEvent)
	require.True(t, ok)
	assert.Equal(t, agentID, event.AgentID)
	assert.True(t, assignedAt.Equal(event.AssignedAt))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}

func TestRepositoryFailureAndPublishBookkeeping(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)

	row := models.OutboxEvent{
		EventType:     enums.EventOrderAgentReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"data":{}}`),
	}
	require.NoError(t, repo.Insert(db, row))

	fetch := func() []models.OutboxEvent {
		var out []models.OutboxEvent
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = repo.FetchUnpublishedForPublish(tx, 10, 2)
			return err
		}))
		return out
	}

	pending := fetch()
	require.Len(t, pending, 1)
	require.NoError(t, repo.MarkFailedTx(db, pending[0].ID, errors.New("unavailable")))

	pending = fetch()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].AttemptCount)

	require.NoError(t, repo.MarkTerminalTx(db, pending[0].ID, errors.New("bad payload"), 2))
	assert.Empty(t, fetch(), "rows at max attempts are parked")
}

func TestResolveUnknownEvent(t *testing.T) {
	_, _, err := NewDecoderRegistry().Resolve(models.OutboxEvent{
		EventType: enums.EventOrderAgentAssigned,
		Payload:   []byte(`{"version":1,"data":{}}`),
	})
	require.Error(t, err)
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewRepository(db)
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)
	published := old.Add(time.Minute)

	insert := func(createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
		row := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventOrderAgentReleased,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{"version":1,"data":{}}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}
		require.NoError(t, db.Create(&row).Error)
		return row.ID
	}

	insert(old, &published, 0)
	insert(old, nil, 10)
	pendingOld := insert(old, nil, 2)
	recent := insert(now, &now, 0)

	var deleted int64
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(context.Background(), tx, now.Add(-14*24*time.Hour), 10)
		return err
	}))
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, pendingOld, remaining[0].ID)
	assert.Equal(t, recent, remaining[1].ID)
}
