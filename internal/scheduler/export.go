package scheduler

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// exportSnapshot is the TOML-serializable view of the scheduler's current
// Job/Skill state, written alongside the JSON5 config format per
// SPEC_FULL.md's domain stack (one more ecosystem encoding, not a second
// source of truth: jobs/skills are still authoritative in the store).
type exportSnapshot struct {
	Jobs   []jobSummary   `toml:"job"`
	Skills []skillSummary `toml:"skill"`
}

type jobSummary struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Enabled  bool   `toml:"enabled"`
	RunCount int    `toml:"run_count"`
}

type skillSummary struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Enabled    bool   `toml:"enabled"`
	LastStatus string `toml:"last_status"`
}

// ExportState writes a human-readable TOML snapshot of every Job/Skill's
// run state to path, for operator inspection (e.g. `watch cat
// scheduler-state.toml`). Safe to call at any time; it only reads stores.
func (s *Scheduler) ExportState(ctx context.Context, path string) error {
	jobs, err := s.stores.Jobs.List(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	skills, err := s.stores.Skills.List(ctx)
	if err != nil {
		return fmt.Errorf("list skills: %w", err)
	}

	snap := exportSnapshot{
		Jobs:   make([]jobSummary, len(jobs)),
		Skills: make([]skillSummary, len(skills)),
	}
	for i, j := range jobs {
		snap.Jobs[i] = jobSummary{ID: j.ID, Name: j.Name, Enabled: j.Enabled, RunCount: j.RunCount}
	}
	for i, sk := range skills {
		snap.Skills[i] = skillSummary{ID: sk.ID, Name: sk.Name, Enabled: sk.Enabled, LastStatus: string(sk.LastRunStatus)}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	return nil
}
