// Package file is the default, no-database persistence backend for
// internal/store: one JSON file per Job/Skill under <state>/jobs/ and
// <state>/skills/, and a single <state>/bindings.json. Grounded on the
// teacher's internal/store/file package (wrapping a sessions.Manager) for
// the "thin adapter over a directory of files" shape, and on the scanner's
// JSONL-audit-log convention (internal/scanner) for safe file permissions.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// JobStore is a directory of "<id>.json" files under <root>/jobs.
type JobStore struct {
	mu   sync.Mutex
	root string
}

// NewJobStore creates a JobStore rooted at <stateDir>/jobs.
func NewJobStore(stateDir string) (*JobStore, error) {
	root := filepath.Join(stateDir, "jobs")
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}
	return &JobStore{root: root}, nil
}

func (s *JobStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *JobStore) List(ctx context.Context) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}
	jobs := make([]store.Job, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read job %s: %w", e.Name(), err)
		}
		var job store.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", e.Name(), err)
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	var job store.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStore) Put(ctx context.Context, job store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return os.WriteFile(s.path(job.ID), raw, filePerm)
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SkillStore is a directory of "<id>.json" files under <root>/skills.
type SkillStore struct {
	mu   sync.Mutex
	root string
}

// NewSkillStore creates a SkillStore rooted at <stateDir>/skills.
func NewSkillStore(stateDir string) (*SkillStore, error) {
	root := filepath.Join(stateDir, "skills")
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create skills dir: %w", err)
	}
	return &SkillStore{root: root}, nil
}

func (s *SkillStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *SkillStore) List(ctx context.Context) ([]store.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	skills := make([]store.Skill, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read skill %s: %w", e.Name(), err)
		}
		var skill store.Skill
		if err := json.Unmarshal(raw, &skill); err != nil {
			return nil, fmt.Errorf("decode skill %s: %w", e.Name(), err)
		}
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return skills, nil
}

func (s *SkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", id, err)
	}
	var skill store.Skill
	if err := json.Unmarshal(raw, &skill); err != nil {
		return nil, fmt.Errorf("decode skill %s: %w", id, err)
	}
	return &skill, nil
}

func (s *SkillStore) Put(ctx context.Context, skill store.Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.MarshalIndent(skill, "", "  ")
	if err != nil {
		return fmt.Errorf("encode skill %s: %w", skill.ID, err)
	}
	return os.WriteFile(s.path(skill.ID), raw, filePerm)
}

func (s *SkillStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// BindingStore persists the channel binding list as a single JSON array.
type BindingStore struct {
	mu   sync.Mutex
	path string
}

// NewBindingStore creates a BindingStore backed by <stateDir>/bindings.json.
func NewBindingStore(stateDir string) (*BindingStore, error) {
	if err := os.MkdirAll(stateDir, dirPerm); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &BindingStore{path: filepath.Join(stateDir, "bindings.json")}, nil
}

func (s *BindingStore) List(ctx context.Context) ([]store.ChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	var bindings []store.ChannelBinding
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	return bindings, nil
}

func (s *BindingStore) Replace(ctx context.Context, bindings []store.ChannelBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.MarshalIndent(bindings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	return os.WriteFile(s.path, raw, filePerm)
}

// NewStores builds a full store.Stores backed by the file implementations.
func NewStores(stateDir string) (*store.Stores, error) {
	jobs, err := NewJobStore(stateDir)
	if err != nil {
		return nil, err
	}
	skills, err := NewSkillStore(stateDir)
	if err != nil {
		return nil, err
	}
	bindings, err := NewBindingStore(stateDir)
	if err != nil {
		return nil, err
	}
	return &store.Stores{Jobs: jobs, Skills: skills, Bindings: bindings}, nil
}
