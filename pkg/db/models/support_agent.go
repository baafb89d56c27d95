package models

import (
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// SupportAgent is a human operator that can be assigned to incoming user requests.
type SupportAgent struct {
	ID            string            `gorm:"column:id;primaryKey"`
	Handle        string            `gorm:"column:handle;not null;uniqueIndex"`
	Status        enums.AgentStatus `gorm:"column:status;not null"`
	Weight        int               `gorm:"column:weight;not null"`
	MaxConcurrent int               `gorm:"column:max_concurrent;not null"`
	CurrentCount  int               `gorm:"column:current_count;not null"`
	TotalServed   int               `gorm:"column:total_served;not null"`
	IsActive      bool              `gorm:"column:is_active;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at"`
}

func (SupportAgent) TableName() string { return "support_agents" }

// HasCapacity reports whether the agent passes the capacity filter.
func (a SupportAgent) HasCapacity() bool {
	return a.IsActive && a.Status.AcceptsWork() && a.CurrentCount < a.MaxConcurrent
}

// AssignmentRecord is the append-only history of agent assignments.
type AssignmentRecord struct {
	ID          string                 `gorm:"column:id;primaryKey"`
	UserID      string                 `gorm:"column:user_id;not null"`
	AgentID     string                 `gorm:"column:agent_id;not null"`
	AgentHandle string                 `gorm:"column:agent_handle;not null"`
	Method      enums.AssignmentMethod `gorm:"column:method;not null"`
	Fallback    bool                   `gorm:"column:fallback;not null"`
	Status      enums.AssignmentStatus `gorm:"column:status;not null"`
	AssignedAt  time.Time              `gorm:"column:assigned_at"`
	ReleasedAt  *time.Time             `gorm:"column:released_at"`
}

func (AssignmentRecord) TableName() string { return "assignment_records" }
