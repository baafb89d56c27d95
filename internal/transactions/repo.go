package transactions

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/pagination"
)

// Repository exposes transaction and audit trail persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type listQuery struct {
	scopeID     *string
	status      *enums.TransactionStatus
	requesterID string
	cursor      *pagination.Cursor
	limit       int
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *Repository) Create(tx *gorm.DB, row *models.Transaction) error {
	return tx.Create(row).Error
}

func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*models.Transaction, error) {
	var row models.Transaction
	if err := r.conn(ctx, tx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// TransitionStatus moves the row from one status to another only if it is
// still in from. It reports whether the row changed.
func (r *Repository) TransitionStatus(tx *gorm.DB, id string, from, to enums.TransactionStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ListIDsByStatus returns ids of transactions in status, optionally limited to
// one scope, oldest first.
func (r *Repository) ListIDsByStatus(ctx context.Context, status enums.TransactionStatus, scopeID *string) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("status = ?", status)
	if scopeID != nil {
		q = q.Where("scope_id = ?", *scopeID)
	}
	var ids []string
	err := q.Order("created_at ASC").Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// List returns transactions newest first using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if opts.scopeID != nil {
		q = q.Where("scope_id = ?", *opts.scopeID)
	}
	if opts.status != nil {
		q = q.Where("status = ?", *opts.status)
	}
	if opts.requesterID != "" {
		q = q.Where("requester_id = ?", opts.requesterID)
	}
	if opts.cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}
	var rows []models.Transaction
	err := q.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) InsertAuditEntry(tx *gorm.DB, entry *models.TransactionAuditEntry) error {
	return tx.Create(entry).Error
}

// ListAuditEntries returns the trail of a transaction in the order it was written.
func (r *Repository) ListAuditEntries(ctx context.Context, transactionID string) ([]models.TransactionAuditEntry, error) {
	var rows []models.TransactionAuditEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
