// Package store is the persistence layer behind the Scheduler (spec.md
// §4.J): Jobs, Skills, and channel Bindings. Two backends satisfy the same
// interfaces — file (default) and postgres (optional, gated on
// config.DatabaseConfig.IsPostgres()) — grounded on the teacher's
// store/store.go interface-per-concern shape and its file/pg dual
// implementation split (internal/store/file vs internal/store/pg).
package store

import (
	"context"
	"time"
)

// JobType distinguishes one-shot, recurring, and cron jobs (spec.md §3 Job).
type JobType string

const (
	JobTypeCron      JobType = "cron"
	JobTypeScheduled JobType = "scheduled"
	JobTypeRecurring JobType = "recurring"
)

// ActionKind selects between a direct tool call and a multi-step workflow.
type ActionKind string

const (
	ActionToolCall ActionKind = "tool_call"
	ActionWorkflow ActionKind = "workflow"
)

// WorkflowStep is one step of a workflow Action. Steps whose DependsOn ids
// have not yet run are deferred within the same execution.
type WorkflowStep struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
}

// Action is what a Job does when it fires.
type Action struct {
	Kind       ActionKind     `json:"kind"`
	ToolName   string         `json:"tool_name,omitempty"`   // ActionToolCall
	Parameters map[string]any `json:"parameters,omitempty"`  // ActionToolCall
	Steps      []WorkflowStep `json:"steps,omitempty"`       // ActionWorkflow
}

// Job is a scheduled, LLM-free unit of work (spec.md §3 Job, §4.J Job pass).
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           JobType    `json:"type"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"` // one-shot
	Action         Action     `json:"action"`
	Enabled        bool       `json:"enabled"`
	RunCount       int        `json:"run_count"`
	MaxRuns        *int       `json:"max_runs,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

// TriggerType selects how a Skill is fired.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerManual   TriggerType = "manual"
)

// TriggerConfig holds the fields relevant to Skill.TriggerType. Only one of
// (Schedule,Timezone) or IntervalMinutes is meaningful, matching TriggerType.
type TriggerConfig struct {
	Schedule        string `json:"schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
}

// LastRunStatus reports the outcome of a Skill's most recent fire.
type LastRunStatus string

const (
	RunStatusNone    LastRunStatus = ""
	RunStatusSuccess LastRunStatus = "success"
	RunStatusError   LastRunStatus = "error"
)

// Skill is a scheduler-visible reasoner task (spec.md §3 Skill, §4.J Skill pass).
type Skill struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Enabled            bool          `json:"enabled"`
	TriggerType        TriggerType   `json:"trigger_type"`
	TriggerConfig      TriggerConfig `json:"trigger_config"`
	Instructions       string        `json:"instructions"`
	MaxSteps           int           `json:"max_steps,omitempty"`
	RequiredTools      []string      `json:"required_tools,omitempty"`
	NotifyOnCompletion bool          `json:"notify_on_completion,omitempty"`
	LastRunAt          *time.Time    `json:"last_run_at,omitempty"`
	LastRunStatus      LastRunStatus `json:"last_run_status,omitempty"`
	LastRunSummary     string        `json:"last_run_summary,omitempty"`
	// LastFailureAt backs the Skill pass's 5-minute failure cooldown; not
	// part of spec.md's Skill shape, tracked only to gate re-fire attempts.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// JobStore persists Job records.
type JobStore interface {
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Put(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
}

// SkillStore persists Skill records.
type SkillStore interface {
	List(ctx context.Context) ([]Skill, error)
	Get(ctx context.Context, id string) (*Skill, error)
	Put(ctx context.Context, skill Skill) error
	Delete(ctx context.Context, id string) error
}

// BindingStore persists the Message Router's binding list, so runtime
// rebinds (spec.md §4.G "replaceable at runtime") survive a restart.
type BindingStore interface {
	List(ctx context.Context) ([]ChannelBinding, error)
	Replace(ctx context.Context, bindings []ChannelBinding) error
}

// ChannelBinding mirrors config.ChannelBinding; duplicated here rather than
// imported so this package has no dependency on internal/config.
type ChannelBinding struct {
	Channel       string `json:"channel"`
	ChatIDPattern string `json:"chat_id_pattern"`
	AgentID       string `json:"agent_id"`
}

// Stores is the top-level persistence container, mirroring the teacher's
// store.Stores grouping (scoped down to what the Scheduler needs).
type Stores struct {
	Jobs     JobStore
	Skills   SkillStore
	Bindings BindingStore
}
