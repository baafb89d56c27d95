package agents

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// Repository exposes agent and assignment persistence.
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

func (r *Repository) Create(tx *gorm.DB, agent *models.SupportAgent) error {
	return tx.Create(agent).Error
}

func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*models.SupportAgent, error) {
	var row models.SupportAgent
	if err := r.conn(ctx, tx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns agents oldest first; activeOnly filters out deactivated rows.
func (r *Repository) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]models.SupportAgent, error) {
	q := r.conn(ctx, tx).Model(&models.SupportAgent{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []models.SupportAgent
	err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) Update(tx *gorm.DB, id string, fields map[string]any) (bool, error) {
	fields["updated_at"] = time.Now().UTC()
	res := tx.Model(&models.SupportAgent{}).Where("id = ?", id).Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// IncrementLoad claims one slot of the agent. Unless force is set the update
// only applies while the agent accepts work and is under capacity, so
// concurrent assigners never push it past max_concurrent.
func (r *Repository) IncrementLoad(tx *gorm.DB, id string, force bool, at time.Time) (bool, error) {
	q := tx.Model(&models.SupportAgent{}).Where("id = ? AND is_active = ?", id, true)
	if !force {
		q = q.Where("status IN ? AND current_count < max_concurrent",
			[]enums.AgentStatus{enums.AgentStatusAvailable, enums.AgentStatusBusy})
	}
	res := q.Updates(map[string]any{
		"current_count": gorm.Expr("current_count + 1"),
		"total_served":  gorm.Expr("total_served + 1"),
		"updated_at":    at,
	})
	return res.RowsAffected == 1, res.Error
}

// DecrementLoad releases one slot, never going below zero.
func (r *Repository) DecrementLoad(tx *gorm.DB, id string, at time.Time) error {
	return tx.Model(&models.SupportAgent{}).
		Where("id = ? AND current_count > 0", id).
		Updates(map[string]any{
			"current_count": gorm.Expr("current_count - 1"),
			"updated_at":    at,
		}).Error
}

func (r *Repository) SetLoad(tx *gorm.DB, id string, count int, at time.Time) error {
	return tx.Model(&models.SupportAgent{}).
		Where("id = ?", id).
		Updates(map[string]any{"current_count": count, "updated_at": at}).Error
}

func (r *Repository) CreateAssignment(tx *gorm.DB, rec *models.AssignmentRecord) error {
	return tx.Create(rec).Error
}

func (r *Repository) FindAssignment(ctx context.Context, tx *gorm.DB, id string) (*models.AssignmentRecord, error) {
	var row models.AssignmentRecord
	if err := r.conn(ctx, tx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CloseAssignment marks an open assignment released and reports whether it
// was still open.
func (r *Repository) CloseAssignment(tx *gorm.DB, id string, at time.Time) (bool, error) {
	res := tx.Model(&models.AssignmentRecord{}).
		Where("id = ? AND status = ?", id, enums.AssignmentStatusOpen).
		Updates(map[string]any{"status": enums.AssignmentStatusReleased, "released_at": at})
	return res.RowsAffected == 1, res.Error
}

// ReleaseOpenByAgent closes every open assignment of the agent.
func (r *Repository) ReleaseOpenByAgent(tx *gorm.DB, agentID string, at time.Time) (int64, error) {
	res := tx.Model(&models.AssignmentRecord{}).
		Where("agent_id = ? AND status = ?", agentID, enums.AssignmentStatusOpen).
		Updates(map[string]any{"status": enums.AssignmentStatusReleased, "released_at": at})
	return res.RowsAffected, res.Error
}

// ListAssignmentsByUser returns the user's assignments, newest first.
func (r *Repository) ListAssignmentsByUser(ctx context.Context, userID string, limit int) ([]models.AssignmentRecord, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("assigned_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.AssignmentRecord
	err := q.Find(&rows).Error
	return rows, err
}

// AgentsByLastAssignment returns ids of agents that have been assigned at
// least once, least recently assigned first.
func (r *Repository) AgentsByLastAssignment(ctx context.Context, tx *gorm.DB) ([]string, error) {
	var ids []string
	err := r.conn(ctx, tx).Model(&models.AssignmentRecord{}).
		Group("agent_id").
		Order("MAX(assigned_at) ASC").
		Pluck("agent_id", &ids).Error
	return ids, err
}

// CountOpenByAgent returns the number of open assignments per agent.
func (r *Repository) CountOpenByAgent(ctx context.Context, tx *gorm.DB) (map[string]int, error) {
	type row struct {
		AgentID   string
		OpenCount int
	}
	var rows []row
	err := r.conn(ctx, tx).Model(&models.AssignmentRecord{}).
		Select("agent_id, COUNT(*) AS open_count").
		Where("status = ?", enums.AssignmentStatusOpen).
		Group("agent_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, c := range rows {
		out[c.AgentID] = c.OpenCount
	}
	return out, nil
}

// ListOpenAssignedBefore returns ids of open assignments older than cutoff.
func (r *Repository) ListOpenAssignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&models.AssignmentRecord{}).
		Where("status = ? AND assigned_at < ?", enums.AssignmentStatusOpen, cutoff.UTC()).
		Order("assigned_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
