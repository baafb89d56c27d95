package confirmation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// SQLStore keeps slots in confirmation_requests. Take is a conditional delete.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Put(ctx context.Context, req Request) error {
	row := models.ConfirmationRequest{
		ActorID:            req.ActorID,
		OperationKind:      req.Kind,
		PayloadFingerprint: req.Fingerprint,
		CreatedAt:          req.CreatedAt.UTC(),
		ExpiresAt:          req.ExpiresAt.UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"operation_kind", "payload_fingerprint", "created_at", "expires_at"}),
	}).Create(&row).Error
}

func (s *SQLStore) Get(ctx context.Context, actorID string) (*Request, error) {
	var row models.ConfirmationRequest
	err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Request{
		ActorID:     row.ActorID,
		Kind:        row.OperationKind,
		Fingerprint: row.PayloadFingerprint,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (s *SQLStore) Take(ctx context.Context, actorID string, kind enums.OperationKind, fingerprint string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("actor_id = ? AND operation_kind = ? AND payload_fingerprint = ?", actorID, kind, fingerprint).
		Delete(&models.ConfirmationRequest{})
	return res.RowsAffected == 1, res.Error
}

func (s *SQLStore) Delete(ctx context.Context, actorID string) error {
	return s.db.WithContext(ctx).Where("actor_id = ?", actorID).Delete(&models.ConfirmationRequest{}).Error
}

// DeleteExpired purges requests that expired before cutoff.
func (s *SQLStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&models.ConfirmationRequest{})
	return res.RowsAffected, res.Error
}
