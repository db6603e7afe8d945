package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

// runJobPass executes every due, enabled cron Job via the Tool Router
// (spec.md §4.J Job pass). Bounded to cfg.maxItemsPerTick(); overflow
// defers to the next minute.
func (s *Scheduler) runJobPass(ctx context.Context, now, prevMinuteStart, minuteStart time.Time) {
	jobs, err := s.stores.Jobs.List(ctx)
	if err != nil {
		s.log.Error("scheduler: list jobs failed", "error", err)
		return
	}

	ran := 0
	for _, job := range jobs {
		if ran >= s.cfg.maxItemsPerTick() {
			s.log.Warn("scheduler: job pass hit per-tick cap, deferring remainder", "cap", s.cfg.maxItemsPerTick())
			break
		}
		if !job.Enabled || job.Type != store.JobTypeCron {
			continue
		}
		due, err := cronDue(job.CronExpression, job.Timezone, prevMinuteStart, minuteStart)
		if err != nil {
			s.log.Error("scheduler: bad job cron expression", "job_id", job.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		if job.LastRunAt != nil && !job.LastRunAt.Before(minuteStart) {
			continue // already fired this minute-window
		}

		ran++
		s.runOneJob(ctx, job, now)
	}
}

func (s *Scheduler) runOneJob(ctx context.Context, job store.Job, now time.Time) {
	ctx, span := s.cfg.tracer().Start(ctx, "scheduler.job", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("job_name", job.Name),
	))
	defer span.End()

	if job.ExpiresAt != nil && !now.Before(*job.ExpiresAt) {
		job.Enabled = false
		s.persistJob(ctx, job)
		return
	}
	if job.MaxRuns != nil && job.RunCount >= *job.MaxRuns {
		job.Enabled = false
		s.persistJob(ctx, job)
		return
	}

	err := s.executeAction(ctx, job.Action)

	job.RunCount++
	job.LastRunAt = &now
	if job.MaxRuns != nil && job.RunCount >= *job.MaxRuns {
		job.Enabled = false
	}

	if err != nil {
		span.RecordError(err)
		s.log.Error("scheduler: job execution failed", "job_id", job.ID, "error", err)
		s.notify(ctx, "", "", fmt.Sprintf("Job %q failed: %v", job.Name, err))
	}
	s.persistJob(ctx, job)
}

func (s *Scheduler) persistJob(ctx context.Context, job store.Job) {
	if err := s.stores.Jobs.Put(ctx, job); err != nil {
		s.log.Error("scheduler: persist job failed", "job_id", job.ID, "error", err)
	}
}

// executeAction runs a Job's Action via the Tool Router: a direct tool call,
// or a workflow's steps in dependency order (steps whose DependsOn ids
// haven't run yet within this execution are deferred to a later pass over
// the remaining steps).
func (s *Scheduler) executeAction(ctx context.Context, action store.Action) error {
	switch action.Kind {
	case store.ActionToolCall:
		_, err := s.tools.Route(ctx, action.ToolName, action.Parameters)
		return err

	case store.ActionWorkflow:
		done := make(map[string]bool, len(action.Steps))
		remaining := append([]store.WorkflowStep{}, action.Steps...)
		for len(remaining) > 0 {
			progressed := false
			next := remaining[:0]
			for _, step := range remaining {
				if !allDone(step.DependsOn, done) {
					next = append(next, step)
					continue
				}
				if _, err := s.tools.Route(ctx, step.ToolName, step.Parameters); err != nil {
					return fmt.Errorf("workflow step %s: %w", step.ID, err)
				}
				done[step.ID] = true
				progressed = true
			}
			remaining = next
			if !progressed {
				return fmt.Errorf("workflow has unsatisfiable step dependencies")
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func allDone(ids []string, done map[string]bool) bool {
	for _, id := range ids {
		if !done[id] {
			return false
		}
	}
	return true
}
