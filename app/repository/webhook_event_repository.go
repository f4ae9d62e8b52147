package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the event unless its EventID already exists.
// The unique index on event_id makes this the atomic deduplication point
// for concurrent deliveries of the same event.
func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByEventID retrieves an event by its external identifier
func (r *webhookEventRepository) GetByEventID(eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkProcessed records that the event's side effects have been applied
func (r *webhookEventRepository) MarkProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at": &now,
			"last_error":   "",
		}).Error
}

// RecordFailure stores the handler error and bumps the retry counter; the
// event stays unprocessed so the retry job picks it up again.
func (r *webhookEventRepository) RecordFailure(id uint, processingErr string) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  processingErr,
		}).Error
}

// FindUnprocessed returns unprocessed events newer than the given time that
// still have retry budget left
func (r *webhookEventRepository) FindUnprocessed(since time.Time, maxRetries int, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.
		Where("processed_at IS NULL AND created_at > ? AND retry_count < ?", since, maxRetries).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

// DeleteProcessedOlderThan removes processed events older than the cutoff
// and returns the number of rows removed
func (r *webhookEventRepository) DeleteProcessedOlderThan(cutoff time.Time) (int64, error) {
	tx := r.db.
		Where("processed_at IS NOT NULL AND processed_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	return tx.RowsAffected, tx.Error
}
