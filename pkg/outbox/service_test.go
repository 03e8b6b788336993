package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/db/dbtest"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         SystemActor(),
			Data:          map[string]string{"order_number": "ORD-1"},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(nil, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, ActorSystem, envelope.Actor.Role)
	assert.JSONEq(t, `{"order_number":"ORD-1"}`, string(envelope.Data))
}

func TestEmitRolledBackWithCaller(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          struct{}{},
		}))
		return errors.New("abort")
	})
	require.Error(t, err)

	rows, err := repo.ListByAggregate(nil, orderID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	require.ErrorIs(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPaid}), errTxRequired)

	invalid := []DomainEvent{
		{EventType: "order.refunded", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		{EventType: enums.EventOrderPaid, AggregateType: "customer", AggregateID: uuid.New()},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder},
	}
	for _, event := range invalid {
		err := conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, event)
		})
		assert.Error(t, err, "%+v", event)
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitStampsDefaults(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	svc.newID = func() string { return "evt-1" }
	orderID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       2,
		})
	}))

	rows, err := repo.ListByAggregate(nil, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, "evt-1", envelope.EventID)
	assert.Equal(t, 2, envelope.Version)
	assert.True(t, fixed.Equal(envelope.OccurredAt))
	assert.JSONEq(t, "null", string(envelope.Data))
}

func TestFetchSkipsPublishedAndDeferredRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()
	later := now.Add(time.Hour)

	due := seedEvent(t, conn, nil, 0)
	seedEvent(t, conn, &later, 1)
	exhausted := seedEvent(t, conn, nil, 5)
	published := seedEvent(t, conn, nil, 0)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, published.ID)
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)
	assert.NotEqual(t, exhausted.ID, rows[0].ID)
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	event := seedEvent(t, conn, nil, 0)
	retryAt := time.Now().UTC().Add(2 * time.Second)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, event.ID, errors.New("deadline exceeded"), retryAt)
	}))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "deadline exceeded", *stored.LastError)
	require.NotNil(t, stored.NextAttemptAt)
	assert.WithinDuration(t, retryAt, *stored.NextAttemptAt, time.Second)
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := seedEvent(t, conn, nil, 0)
	pending := seedEvent(t, conn, nil, 2)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, old.ID)
	}))

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, pending.ID, remaining[0].ID)

	deleted, err = repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	long := make([]byte, maxLastErrorLen+50)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	eventID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
		})
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func seedEvent(t *testing.T, conn *gorm.DB, nextAttempt *time.Time, attempts int) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"data":{}}`),
		AttemptCount:  attempts,
		NextAttemptAt: nextAttempt,
	}
	require.NoError(t, conn.Create(&event).Error)
	return event
}

func TestDLQInsertRejectsUnknownReason(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   "gave_up",
		})
	})
	require.Error(t, err)
}

func TestDeletePublishedBeforeHonoursLimit(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	for i := 0; i < 3; i++ {
		event := seedEvent(t, conn, nil, 0)
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return repo.MarkPublishedTx(tx, event.ID)
		}))
	}

	cutoff := time.Now().UTC().Add(time.Minute)
	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.DeletePublishedBefore(context.Background(), nil, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func deadLetter(t *testing.T, conn *gorm.DB, event models.OutboxEvent, failedAt time.Time) {
	t.Helper()
	msg := "topic not found"
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := NewDLQRepository(conn).InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			AttemptCount:  5,
			FailedAt:      failedAt,
		}); err != nil {
			return err
		}
		return NewRepository(conn).MarkTerminalTx(tx, event.ID, errors.New(msg), 5)
	}))
}

func TestDLQListNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	now := time.Now().UTC()
	older := seedEvent(t, conn, nil, 4)
	newer := seedEvent(t, conn, nil, 4)
	deadLetter(t, conn, older, now.Add(-time.Hour))
	deadLetter(t, conn, newer, now)

	rows, err := dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].EventID)

	rows, err = dlq.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDLQRequeueResetsOutboxRow(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	repo := NewRepository(conn)
	event := seedEvent(t, conn, nil, 4)
	deadLetter(t, conn, event, time.Now().UTC())

	require.NoError(t, dlq.Requeue(context.Background(), event.ID))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Zero(t, stored.AttemptCount)
	assert.Nil(t, stored.LastError)
	assert.Nil(t, stored.NextAttemptAt)

	found, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	var due []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		due, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, due, 1)

	assert.ErrorIs(t, dlq.Requeue(context.Background(), event.ID), ErrDLQEntryNotFound)
}

func TestDLQRequeueRecreatesDeletedRow(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	event := seedEvent(t, conn, nil, 4)
	deadLetter(t, conn, event, time.Now().UTC())
	require.NoError(t, conn.Delete(&models.OutboxEvent{}, "id = ?", event.ID).Error)

	require.NoError(t, dlq.Requeue(context.Background(), event.ID))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, event.AggregateID, stored.AggregateID)
	assert.JSONEq(t, string(event.Payload), string(stored.Payload))
}

func TestDLQRequeueRefusesPublishedRow(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	event := seedEvent(t, conn, nil, 4)
	deadLetter(t, conn, event, time.Now().UTC())
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return NewRepository(conn).MarkPublishedTx(tx, event.ID)
	}))

	assert.ErrorIs(t, dlq.Requeue(context.Background(), event.ID), ErrAlreadyPublished)
}
