package testutil

import (
	"context"
	"testing"

	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/columnmapping"
	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/database"
)

// Env bundles a migrated database with every repository over it.
type Env struct {
	Ctx        context.Context
	DB         database.DB
	Snapshots  *snapshot.Repository
	Canonicals *canonical.Repository
	Imports    *importfile.Repository
	Mappings   *columnmapping.Repository
	Fixtures   *Fixtures
}

func NewEnv(t *testing.T, organizationID string) *Env {
	t.Helper()

	db := NewDB(t)
	logger := Logger()
	env := &Env{
		Ctx:        Context(organizationID),
		DB:         db,
		Snapshots:  snapshot.NewRepository(db, logger),
		Canonicals: canonical.NewRepository(db, logger),
		Imports:    importfile.NewRepository(db, logger),
		Mappings:   columnmapping.NewRepository(db, logger),
	}
	env.Fixtures = NewFixtures(t, env.Snapshots, env.Canonicals, env.Imports, organizationID)
	return env
}
