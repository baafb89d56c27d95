package addresses

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// Repository exposes payout address persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Create inserts a new address row inside tx.
func (r *Repository) Create(tx *gorm.DB, address *models.PayoutAddress) error {
	return tx.Create(address).Error
}

// FindByID returns the address or gorm.ErrRecordNotFound. A nil tx reads
// outside any transaction.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*models.PayoutAddress, error) {
	var row models.PayoutAddress
	if err := r.conn(ctx, tx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByScope returns every address of the scope, oldest first.
func (r *Repository) ListByScope(ctx context.Context, scopeID string) ([]models.PayoutAddress, error) {
	var rows []models.PayoutAddress
	err := r.db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListEligible returns active confirmed addresses of the scope, oldest first.
func (r *Repository) ListEligible(ctx context.Context, tx *gorm.DB, scopeID string) ([]models.PayoutAddress, error) {
	var rows []models.PayoutAddress
	err := r.conn(ctx, tx).
		Where("scope_id = ? AND is_active = ? AND confirmation_state = ?", scopeID, true, enums.AddressConfirmed).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// Update applies fields to the address and reports whether a row matched.
func (r *Repository) Update(tx *gorm.DB, id string, fields map[string]any) (bool, error) {
	fields["updated_at"] = time.Now().UTC()
	res := tx.Model(&models.PayoutAddress{}).Where("id = ?", id).Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// ConfirmPending moves a pending address to confirmed. It reports false when
// the address was not pending.
func (r *Repository) ConfirmPending(tx *gorm.DB, id, confirmerID string, at time.Time) (bool, error) {
	res := tx.Model(&models.PayoutAddress{}).
		Where("id = ? AND confirmation_state = ?", id, enums.AddressPendingConfirmation).
		Updates(map[string]any{
			"confirmation_state": enums.AddressConfirmed,
			"confirmed_by":       confirmerID,
			"confirmed_at":       at,
			"updated_at":         at,
		})
	return res.RowsAffected > 0, res.Error
}

// ClearDefault unsets the default flag on every address of the scope.
func (r *Repository) ClearDefault(tx *gorm.DB, scopeID string) error {
	return tx.Model(&models.PayoutAddress{}).
		Where("scope_id = ? AND is_default = ?", scopeID, true).
		Updates(map[string]any{"is_default": false, "updated_at": time.Now().UTC()}).Error
}

// IncrementUsage bumps usage_count atomically.
func (r *Repository) IncrementUsage(tx *gorm.DB, id string, at time.Time) error {
	res := tx.Model(&models.PayoutAddress{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
