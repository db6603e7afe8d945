package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

// runSkillPass runs the two Skill sub-phases: auto-enable, then fire-due
// (spec.md §4.J Skill pass). Bounded to cfg.maxItemsPerTick() across the
// fire-due phase; auto-enable is cheap (no execution) and unbounded.
func (s *Scheduler) runSkillPass(ctx context.Context, now, prevMinuteStart, minuteStart time.Time) {
	skills, err := s.stores.Skills.List(ctx)
	if err != nil {
		s.log.Error("scheduler: list skills failed", "error", err)
		return
	}

	s.autoEnable(ctx, skills)

	ran := 0
	for _, skill := range skills {
		if !skill.Enabled {
			continue
		}
		if ran >= s.cfg.maxItemsPerTick() {
			s.log.Warn("scheduler: skill pass hit per-tick cap, deferring remainder", "cap", s.cfg.maxItemsPerTick())
			break
		}

		due, err := s.skillDue(skill, now, prevMinuteStart, minuteStart)
		if err != nil {
			s.log.Error("scheduler: bad skill trigger config", "skill_id", skill.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		if s.inFailureCooldown(skill, now) {
			continue
		}

		ran++
		s.runOneSkill(ctx, skill, now)
	}
}

// autoEnable enables disabled cron skills whose requiredTools are all
// present in the Tool Router. Skills with no requiredTools are left alone
// (manual toggle only, spec.md §4.J phase 1).
func (s *Scheduler) autoEnable(ctx context.Context, skills []store.Skill) {
	for _, skill := range skills {
		if skill.Enabled || skill.TriggerType != store.TriggerCron || len(skill.RequiredTools) == 0 {
			continue
		}
		if !s.allToolsPresent(skill.RequiredTools) {
			continue
		}
		skill.Enabled = true
		if err := s.stores.Skills.Put(ctx, skill); err != nil {
			s.log.Error("scheduler: persist auto-enabled skill failed", "skill_id", skill.ID, "error", err)
		}
	}
}

func (s *Scheduler) allToolsPresent(required []string) bool {
	for _, name := range required {
		if !s.tools.HasRoute(name) {
			return false
		}
	}
	return true
}

func (s *Scheduler) skillDue(skill store.Skill, now, prevMinuteStart, minuteStart time.Time) (bool, error) {
	switch skill.TriggerType {
	case store.TriggerCron:
		due, err := cronDue(skill.TriggerConfig.Schedule, skill.TriggerConfig.Timezone, prevMinuteStart, minuteStart)
		if err != nil {
			return false, err
		}
		if skill.LastRunAt != nil && !skill.LastRunAt.Before(minuteStart) {
			return false, nil
		}
		return due, nil

	case store.TriggerInterval:
		if skill.LastRunAt == nil {
			return true, nil
		}
		interval := time.Duration(skill.TriggerConfig.IntervalMinutes) * time.Minute
		return now.Sub(*skill.LastRunAt) >= interval, nil

	default:
		return false, nil // manual: never fired by the scheduler
	}
}

func (s *Scheduler) inFailureCooldown(skill store.Skill, now time.Time) bool {
	if skill.LastRunStatus != store.RunStatusError || skill.LastFailureAt == nil {
		return false
	}
	return now.Sub(*skill.LastFailureAt) < s.cfg.failureCooldown()
}

func (s *Scheduler) runOneSkill(ctx context.Context, skill store.Skill, now time.Time) {
	ctx, span := s.cfg.tracer().Start(ctx, "scheduler.skill", trace.WithAttributes(
		attribute.String("skill_id", skill.ID),
		attribute.String("skill_name", skill.Name),
	))
	defer span.End()

	agentID := s.cfg.DefaultAgentID
	if agentID == "" || !s.agents.EnsureRunning(ctx, agentID) {
		s.recordSkillFailure(ctx, skill, now, "default reasoner agent unavailable")
		return
	}
	rc, ok := s.agents.ReasonerFor(agentID)
	if !ok {
		s.recordSkillFailure(ctx, skill, now, "default reasoner agent has no bound client")
		return
	}

	notifyChannel, notifyChatID := "", ""
	if s.cfg.DefaultNotify != nil {
		notifyChannel, notifyChatID = s.cfg.DefaultNotify()
	}

	resp, err := rc.ExecuteSkill(ctx, reasonerclient.ExecuteSkillRequest{
		SkillID:       skill.ID,
		Instructions:  skill.Instructions,
		MaxSteps:      firstNonZero(skill.MaxSteps, s.cfg.DefaultMaxSteps),
		RequiredTools: skill.RequiredTools,
		NotifyChatID:  notifyChatID,
	})
	if err != nil {
		s.recordSkillFailure(ctx, skill, now, err.Error())
		return
	}
	if !resp.Success {
		s.recordSkillFailure(ctx, skill, now, resp.Error)
		return
	}

	skill.LastRunAt = &now
	skill.LastRunStatus = store.RunStatusSuccess
	skill.LastRunSummary = resp.Summary
	skill.LastFailureAt = nil
	if err := s.stores.Skills.Put(ctx, skill); err != nil {
		s.log.Error("scheduler: persist skill run failed", "skill_id", skill.ID, "error", err)
	}

	if skill.NotifyOnCompletion && notifyChannel != "" {
		s.notify(ctx, notifyChannel, notifyChatID, fmt.Sprintf("Skill %q completed: %s", skill.Name, resp.Summary))
	}
}

func (s *Scheduler) recordSkillFailure(ctx context.Context, skill store.Skill, now time.Time, reason string) {
	trace.SpanFromContext(ctx).RecordError(fmt.Errorf("%s", reason))
	skill.LastRunAt = &now
	skill.LastRunStatus = store.RunStatusError
	skill.LastRunSummary = reason
	skill.LastFailureAt = &now
	if err := s.stores.Skills.Put(ctx, skill); err != nil {
		s.log.Error("scheduler: persist skill failure failed", "skill_id", skill.ID, "error", err)
	}
	s.notify(ctx, "", "", fmt.Sprintf("Skill %q failed: %s (retry in %s)", skill.Name, reason, s.cfg.failureCooldown()))
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
