package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
)

// ScopeSettingsRepository persists per-scope overrides.
type ScopeSettingsRepository struct {
	db *gorm.DB
}

func NewScopeSettingsRepository(db *gorm.DB) *ScopeSettingsRepository {
	return &ScopeSettingsRepository{db: db}
}

// Get returns the overrides of scopeID, or nil when none are stored.
func (r *ScopeSettingsRepository) Get(ctx context.Context, scopeID string) (*models.ScopeSetting, error) {
	var row models.ScopeSetting
	err := r.db.WithContext(ctx).Where("scope_id = ?", scopeID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertMarkupTx stores the markup override inside tx, leaving other
// overrides untouched.
func (r *ScopeSettingsRepository) UpsertMarkupTx(tx *gorm.DB, scopeID string, markup *decimal.Decimal, actorID string) error {
	row := models.ScopeSetting{
		ScopeID:   scopeID,
		Markup:    markup,
		UpdatedBy: actorID,
		UpdatedAt: time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"markup", "updated_by", "updated_at"}),
	}).Create(&row).Error
}

// UpsertPaymentMethodTx stores the payment-method override inside tx.
func (r *ScopeSettingsRepository) UpsertPaymentMethodTx(tx *gorm.DB, scopeID string, method *string, actorID string) error {
	row := models.ScopeSetting{
		ScopeID:       scopeID,
		PaymentMethod: method,
		UpdatedBy:     actorID,
		UpdatedAt:     time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payment_method", "updated_by", "updated_at"}),
	}).Create(&row).Error
}
