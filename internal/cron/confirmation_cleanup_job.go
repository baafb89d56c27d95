package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/otcsettle/pkg/logger"
)

type expiredConfirmationPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewConfirmationCleanupJob purges expired rows of the SQL confirmation
// store. The Redis store expires keys on its own and needs no job.
func NewConfirmationCleanupJob(logg *logger.Logger, store expiredConfirmationPurger) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("confirmation store required")
	}
	return &confirmationCleanupJob{logg: logg, store: store, now: time.Now}, nil
}

type confirmationCleanupJob struct {
	logg  *logger.Logger
	store expiredConfirmationPurger
	now   func() time.Time
}

func (j *confirmationCleanupJob) Name() string { return "confirmation_cleanup" }

func (j *confirmationCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.store.DeleteExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("delete expired confirmations: %w", err)
	}
	j.logg.Debug(j.logg.WithField(ctx, "rows_deleted", deleted), "expired confirmations purged")
	return nil
}
