// Package pg is the optional Postgres-backed persistence backend for
// internal/store, selected when config.DatabaseConfig.IsPostgres() is true.
// Grounded on the teacher's internal/store/pg package: database/sql opened
// against the "pgx" driver registered by github.com/jackc/pgx/v5/stdlib
// (see PGSessionStore in the teacher's sessions.go), and on its
// cmd/migrate.go for the golang-migrate wiring (file-source migrations
// applied against a postgres database/schema driver).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

// OpenDB opens a *sql.DB against dsn using the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies every pending migration found under migrationsDir.
func Migrate(dsn, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// JobStore is a Postgres-backed store.JobStore.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore { return &JobStore{db: db} }

func (s *JobStore) List(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM scheduler_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []store.Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job store.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Get(ctx context.Context, id string) (*store.Job, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scheduler_jobs WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job store.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStore) Put(ctx context.Context, job store.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		job.ID, raw)
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// SkillStore is a Postgres-backed store.SkillStore.
type SkillStore struct {
	db *sql.DB
}

func NewSkillStore(db *sql.DB) *SkillStore { return &SkillStore{db: db} }

func (s *SkillStore) List(ctx context.Context) ([]store.Skill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM scheduler_skills ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()
	var skills []store.Skill
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		var skill store.Skill
		if err := json.Unmarshal(raw, &skill); err != nil {
			return nil, fmt.Errorf("decode skill: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

func (s *SkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scheduler_skills WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", id, err)
	}
	var skill store.Skill
	if err := json.Unmarshal(raw, &skill); err != nil {
		return nil, fmt.Errorf("decode skill %s: %w", id, err)
	}
	return &skill, nil
}

func (s *SkillStore) Put(ctx context.Context, skill store.Skill) error {
	raw, err := json.Marshal(skill)
	if err != nil {
		return fmt.Errorf("encode skill %s: %w", skill.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_skills (id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		skill.ID, raw)
	if err != nil {
		return fmt.Errorf("put skill %s: %w", skill.ID, err)
	}
	return nil
}

func (s *SkillStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_skills WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete skill %s: %w", id, err)
	}
	return nil
}

// BindingStore is a Postgres-backed store.BindingStore. The whole list is
// replaced as a unit (spec.md §4.G bindings are a small, rarely-changed
// config list, not a high-churn table), stored as one JSON row.
type BindingStore struct {
	db *sql.DB
}

func NewBindingStore(db *sql.DB) *BindingStore { return &BindingStore{db: db} }

func (s *BindingStore) List(ctx context.Context) ([]store.ChannelBinding, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scheduler_bindings WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	var bindings []store.ChannelBinding
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	return bindings, nil
}

func (s *BindingStore) Replace(ctx context.Context, bindings []store.ChannelBinding) error {
	raw, err := json.Marshal(bindings)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduler_bindings (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		raw)
	if err != nil {
		return fmt.Errorf("replace bindings: %w", err)
	}
	return nil
}

// NewStores builds a full store.Stores backed by Postgres. db must already
// be migrated (see Migrate).
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Jobs:     NewJobStore(db),
		Skills:   NewSkillStore(db),
		Bindings: NewBindingStore(db),
	}
}
