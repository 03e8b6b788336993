package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/db/models"
)

const (
	defaultDLQPage = 50
	maxDLQPage     = 200
)

var (
	ErrDLQEntryNotFound = errors.New("dead-lettered event not found")
	ErrAlreadyPublished = errors.New("event was already published")
)

// DLQRepository stores events the publisher gave up on and puts them back
// in the outbox on request.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("invalid dlq reason %q", entry.ErrorReason)
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil when the event never reached the dead-letter table.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// List returns the newest failures first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	switch {
	case limit <= 0:
		limit = defaultDLQPage
	case limit > maxDLQPage:
		limit = maxDLQPage
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue resets the original outbox row so the publisher picks it up on its
// next poll, recreating the row if retention already removed it. The DLQ
// entry is deleted in the same transaction.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []models.OutboxDLQ
		if err := forUpdate(tx, "").
			Where("event_id = ?", eventID).
			Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return ErrDLQEntryNotFound
		}
		entry := entries[0]

		var existing []models.OutboxEvent
		if err := tx.Where("id = ?", eventID).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		switch {
		case len(existing) == 0:
			if err := tx.Create(&models.OutboxEvent{
				ID:            entry.EventID,
				EventType:     entry.EventType,
				AggregateType: entry.AggregateType,
				AggregateID:   entry.AggregateID,
				Payload:       entry.Payload,
			}).Error; err != nil {
				return err
			}
		case existing[0].PublishedAt != nil:
			return ErrAlreadyPublished
		default:
			if err := tx.Model(&models.OutboxEvent{}).
				Where("id = ?", eventID).
				Updates(map[string]any{
					"attempt_count":   0,
					"next_attempt_at": nil,
					"last_error":      nil,
				}).Error; err != nil {
				return err
			}
		}

		return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
	})
}
