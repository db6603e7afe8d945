package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

// memJobStore/memSkillStore are minimal in-memory store.JobStore/SkillStore
// implementations for scheduler unit tests.
type memJobStore struct{ jobs map[string]store.Job }

func newMemJobStore(jobs ...store.Job) *memJobStore {
	m := &memJobStore{jobs: make(map[string]store.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobStore) List(ctx context.Context) ([]store.Job, error) {
	out := make([]store.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}
func (m *memJobStore) Get(ctx context.Context, id string) (*store.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}
func (m *memJobStore) Put(ctx context.Context, job store.Job) error {
	m.jobs[job.ID] = job
	return nil
}
func (m *memJobStore) Delete(ctx context.Context, id string) error {
	delete(m.jobs, id)
	return nil
}

type memSkillStore struct{ skills map[string]store.Skill }

func newMemSkillStore(skills ...store.Skill) *memSkillStore {
	m := &memSkillStore{skills: make(map[string]store.Skill)}
	for _, s := range skills {
		m.skills[s.ID] = s
	}
	return m
}

func (m *memSkillStore) List(ctx context.Context) ([]store.Skill, error) {
	out := make([]store.Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	return out, nil
}
func (m *memSkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	s, ok := m.skills[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (m *memSkillStore) Put(ctx context.Context, skill store.Skill) error {
	m.skills[skill.ID] = skill
	return nil
}
func (m *memSkillStore) Delete(ctx context.Context, id string) error {
	delete(m.skills, id)
	return nil
}

type fakeHalt struct{ halted bool }

func (f fakeHalt) IsTargetHalted(target string) bool { return f.halted }

type fakeTools struct {
	routes  map[string]bool
	calls   []string
	failing map[string]bool
}

func (f *fakeTools) Route(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, exposedName)
	if f.failing[exposedName] {
		return nil, assert.AnError
	}
	return map[string]any{}, nil
}
func (f *fakeTools) HasRoute(exposedName string) bool { return f.routes[exposedName] }

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(ctx context.Context, channel, chatID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeAgents struct {
	running  bool
	reasoner *reasonerclient.Client
}

func (f *fakeAgents) EnsureRunning(ctx context.Context, agentID string) bool { return f.running }
func (f *fakeAgents) ReasonerFor(agentID string) (*reasonerclient.Client, bool) {
	if f.reasoner == nil {
		return nil, false
	}
	return f.reasoner, true
}

func reasonerClientFor(t *testing.T, srv *httptest.Server) *reasonerclient.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return reasonerclient.New(port)
}

func TestTick_HaltedSkipsBothPasses(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "job1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *",
		Action:         store.Action{Kind: store.ActionToolCall, ToolName: "do_thing"},
	})
	sched := New(Config{}, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{halted: true}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), time.Now())

	assert.Empty(t, tools.calls)
}

func TestRunJobPass_FiresDueCronJob(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "job1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *",
		Action:         store.Action{Kind: store.ActionToolCall, ToolName: "do_thing"},
	})
	sched := New(Config{}, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	now := time.Date(2026, 1, 1, 12, 5, 30, 0, time.UTC)
	sched.Tick(context.Background(), now)

	assert.Equal(t, []string{"do_thing"}, tools.calls)
	updated, _ := jobs.Get(context.Background(), "j1")
	assert.Equal(t, 1, updated.RunCount)
	require.NotNil(t, updated.LastRunAt)
}

func TestRunJobPass_DoesNotRefireWithinSameMinuteWindow(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	now := time.Date(2026, 1, 1, 12, 5, 30, 0, time.UTC)
	minuteStart := now.Truncate(time.Minute)
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "job1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *",
		Action:         store.Action{Kind: store.ActionToolCall, ToolName: "do_thing"},
		LastRunAt:      &minuteStart,
	})
	sched := New(Config{}, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), now)

	assert.Empty(t, tools.calls)
}

func TestRunJobPass_DisablesAtMaxRuns(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	maxRuns := 1
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "job1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *", MaxRuns: &maxRuns,
		Action: store.Action{Kind: store.ActionToolCall, ToolName: "do_thing"},
	})
	sched := New(Config{}, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), time.Date(2026, 1, 1, 12, 5, 30, 0, time.UTC))

	updated, _ := jobs.Get(context.Background(), "j1")
	assert.False(t, updated.Enabled)
	assert.Equal(t, 1, updated.RunCount)
}

func TestRunJobPass_NotifiesOnFailureButStillBumpsRunCount(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}, failing: map[string]bool{"do_thing": true}}
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "job1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *",
		Action:         store.Action{Kind: store.ActionToolCall, ToolName: "do_thing"},
	})
	sender := &fakeSender{}
	cfg := Config{DefaultNotify: func() (string, string) { return "telegram", "1" }}
	sched := New(cfg, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{}, tools, &fakeAgents{}, sender)

	sched.Tick(context.Background(), time.Date(2026, 1, 1, 12, 5, 30, 0, time.UTC))

	updated, _ := jobs.Get(context.Background(), "j1")
	assert.Equal(t, 1, updated.RunCount, "run count bumps on failure too, to prevent retry storms")
	assert.Len(t, sender.sent, 1)
}

func TestRunJobPass_WorkflowRunsStepsInDependencyOrder(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	jobs := newMemJobStore(store.Job{
		ID: "j1", Name: "workflow1", Enabled: true, Type: store.JobTypeCron,
		CronExpression: "* * * * *",
		Action: store.Action{
			Kind: store.ActionWorkflow,
			Steps: []store.WorkflowStep{
				{ID: "b", ToolName: "step_b", DependsOn: []string{"a"}},
				{ID: "a", ToolName: "step_a"},
			},
		},
	})
	sched := New(Config{}, &store.Stores{Jobs: jobs, Skills: newMemSkillStore()}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), time.Date(2026, 1, 1, 12, 5, 30, 0, time.UTC))

	assert.Equal(t, []string{"step_a", "step_b"}, tools.calls)
}

func TestRunSkillPass_AutoEnablesWhenToolsPresent(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{"search_web": true}}
	skills := newMemSkillStore(store.Skill{
		ID: "s1", Name: "skill1", Enabled: false, TriggerType: store.TriggerCron,
		TriggerConfig: store.TriggerConfig{Schedule: "0 0 * * *"},
		RequiredTools: []string{"search_web"},
	})
	sched := New(Config{}, &store.Stores{Jobs: newMemJobStore(), Skills: skills}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))

	updated, _ := skills.Get(context.Background(), "s1")
	assert.True(t, updated.Enabled)
}

func TestRunSkillPass_DoesNotAutoEnableWithoutRequiredTools(t *testing.T) {
	tools := &fakeTools{routes: map[string]bool{}}
	skills := newMemSkillStore(store.Skill{
		ID: "s1", Name: "skill1", Enabled: false, TriggerType: store.TriggerCron,
		TriggerConfig: store.TriggerConfig{Schedule: "0 0 * * *"},
	})
	sched := New(Config{}, &store.Stores{Jobs: newMemJobStore(), Skills: skills}, fakeHalt{}, tools, &fakeAgents{}, &fakeSender{})

	sched.Tick(context.Background(), time.Now())

	updated, _ := skills.Get(context.Background(), "s1")
	assert.False(t, updated.Enabled)
}

func TestRunSkillPass_IntervalSkillFiresAndPersistsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute-skill", r.URL.Path)
		_ = json.NewEncoder(w).Encode(reasonerclient.ExecuteSkillResponse{Success: true, Summary: "done"})
	}))
	defer srv.Close()

	skills := newMemSkillStore(store.Skill{
		ID: "s1", Name: "skill1", Enabled: true, TriggerType: store.TriggerInterval,
		TriggerConfig: store.TriggerConfig{IntervalMinutes: 5},
	})
	agents := &fakeAgents{running: true, reasoner: reasonerClientFor(t, srv)}
	sched := New(Config{DefaultAgentID: "default"}, &store.Stores{Jobs: newMemJobStore(), Skills: skills}, fakeHalt{}, &fakeTools{routes: map[string]bool{}}, agents, &fakeSender{})

	sched.Tick(context.Background(), time.Now())

	updated, _ := skills.Get(context.Background(), "s1")
	assert.Equal(t, store.RunStatusSuccess, updated.LastRunStatus)
	assert.Equal(t, "done", updated.LastRunSummary)
	require.NotNil(t, updated.LastRunAt)
}

func TestRunSkillPass_FailureCooldownSkipsRefire(t *testing.T) {
	now := time.Now()
	recentFailure := now.Add(-time.Minute)
	skills := newMemSkillStore(store.Skill{
		ID: "s1", Name: "skill1", Enabled: true, TriggerType: store.TriggerInterval,
		TriggerConfig:  store.TriggerConfig{IntervalMinutes: 1},
		LastRunAt:      &recentFailure,
		LastRunStatus:  store.RunStatusError,
		LastFailureAt:  &recentFailure,
	})
	agents := &fakeAgents{running: true}
	sched := New(Config{DefaultAgentID: "default", FailureCooldown: 5 * time.Minute},
		&store.Stores{Jobs: newMemJobStore(), Skills: skills}, fakeHalt{}, &fakeTools{routes: map[string]bool{}}, agents, &fakeSender{})

	sched.Tick(context.Background(), now)

	updated, _ := skills.Get(context.Background(), "s1")
	assert.Equal(t, store.RunStatusError, updated.LastRunStatus, "cooldown should have skipped this tick entirely")
	require.NotNil(t, updated.LastRunAt)
	assert.True(t, updated.LastRunAt.Equal(recentFailure), "a skipped tick leaves LastRunAt at the earlier failure")
}
