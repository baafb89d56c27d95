package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/otcsettle/pkg/logger"
)

const (
	defaultAssignmentMaxAge = 12 * time.Hour
	staleReleaseBatch       = 200
)

type agentMaintainer interface {
	ReconcileLoad(ctx context.Context) (int, error)
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewAgentLoadReconcileJob rewrites each agent's load counter from its open
// assignments.
func NewAgentLoadReconcileJob(logg *logger.Logger, agents agentMaintainer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent service required")
	}
	return &agentLoadReconcileJob{logg: logg, agents: agents}, nil
}

type agentLoadReconcileJob struct {
	logg   *logger.Logger
	agents agentMaintainer
}

func (j *agentLoadReconcileJob) Name() string { return "agent_load_reconcile" }

func (j *agentLoadReconcileJob) Run(ctx context.Context) error {
	fixed, err := j.agents.ReconcileLoad(ctx)
	if err != nil {
		return err
	}
	if fixed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "agents_corrected", fixed), "agent load reconciled")
	}
	return nil
}

// NewStaleAssignmentReleaseJob releases assignments left open for longer
// than maxAge so abandoned conversations stop holding agent capacity.
func NewStaleAssignmentReleaseJob(logg *logger.Logger, agents agentMaintainer, maxAge time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent service required")
	}
	if maxAge <= 0 {
		maxAge = defaultAssignmentMaxAge
	}
	return &staleAssignmentReleaseJob{logg: logg, agents: agents, maxAge: maxAge, now: time.Now}, nil
}

type staleAssignmentReleaseJob struct {
	logg   *logger.Logger
	agents agentMaintainer
	maxAge time.Duration
	now    func() time.Time
}

func (j *staleAssignmentReleaseJob) Name() string { return "stale_assignment_release" }

func (j *staleAssignmentReleaseJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	released, err := j.agents.ReleaseStale(ctx, cutoff, staleReleaseBatch)
	if err != nil {
		return fmt.Errorf("release stale assignments after %d: %w", released, err)
	}
	if released > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":   cutoff,
			"released": released,
		}), "stale assignments released")
	}
	return nil
}
