// Package backend selects and opens the store.Stores implementation
// configured for a run: file (default) or postgres. It sits above both
// leaf packages, mirroring the teacher's own combining factory living
// outside the packages it combines (_examples/vanducng-goclaw/internal/
// store/pg/factory.go keeps its factory in package pg; here the two
// backends are symmetric enough that neither should import the other, so
// the factory gets its own leaf package instead).
package backend

import (
	"fmt"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
	"github.com/nextlevelbuilder/orchestrator/internal/store"
	"github.com/nextlevelbuilder/orchestrator/internal/store/file"
	"github.com/nextlevelbuilder/orchestrator/internal/store/pg"
)

// Open builds a Stores backed by Postgres when cfg.IsPostgres(), otherwise
// by the file backend rooted at stateDir. Mirrors the teacher's
// pg.NewPGStores / file-store split, scoped to Jobs/Skills/Bindings.
func Open(cfg config.DatabaseConfig, stateDir, migrationsDir string) (*store.Stores, error) {
	if !cfg.IsPostgres() {
		return file.NewStores(stateDir)
	}

	if migrationsDir != "" {
		if err := pg.Migrate(cfg.PostgresDSN, migrationsDir); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	db, err := pg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return pg.NewStores(db), nil
}
