package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims a batch of pending, unparked rows that have
// not yet exhausted their attempts. On Postgres the rows are locked with SKIP LOCKED so
// parallel publishers never publish the same row.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	q := tx.Where("published_at IS NULL AND parked_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id string) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id string, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(err),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// ParkTx stops retrying a row. The audit payload stays in outbox_events with
// the reason and the attempts spent on it.
func (r *Repository) ParkTx(tx *gorm.DB, id string, reason enums.OutboxParkReason, attempts int, err error) error {
	if !reason.IsValid() {
		return fmt.Errorf("invalid park reason %q", reason)
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"parked_at":     time.Now().UTC(),
			"parked_reason": reason,
			"last_error":    truncateError(err),
			"attempt_count": attempts,
		}).Error
}

// CountParked returns how many audit events are parked, by reason.
func (r *Repository) CountParked(ctx context.Context) (map[enums.OutboxParkReason]int64, error) {
	var rows []struct {
		ParkedReason enums.OutboxParkReason
		Total        int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("parked_reason, COUNT(*) AS total").
		Where("parked_at IS NOT NULL").
		Group("parked_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.OutboxParkReason]int64, len(rows))
	for _, row := range rows {
		out[row.ParkedReason] = row.Total
	}
	return out, nil
}

// DeletePublishedBefore removes published rows older than cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff.UTC()).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// ListByAggregate returns the events recorded for one aggregate, oldest first.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID string) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
