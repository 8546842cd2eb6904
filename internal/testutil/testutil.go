// Package testutil provides in-memory databases and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	seeddb "github.com/afrojet/seed/db"
	appctx "github.com/afrojet/seed/pkg/context"
	"github.com/afrojet/seed/pkg/database"
)

var dbCounter atomic.Int64

// Logger discards every message.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// NewDB returns a migrated, isolated in-memory sqlite database.
func NewDB(t *testing.T) database.DB {
	t.Helper()

	id := dbCounter.Add(1)
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", id)
	sqlxDB, err := sqlx.Open(database.DriverSQLite, dsn)
	require.NoError(t, err, "failed to open test database")
	sqlxDB.SetMaxOpenConns(1)

	db := database.NewDatabaseInstance(sqlxDB, Logger())
	ms := database.NewMigrationService(Logger(), &database.MigrationConfig{Migrations: seeddb.Migrations()})
	require.NoError(t, ms.Migrate(db), "failed to migrate test database")

	t.Cleanup(func() { _ = sqlxDB.Close() })
	return db
}

// Context returns a background context scoped to organizationID.
func Context(organizationID string) context.Context {
	return appctx.SetOrganizationID(context.Background(), organizationID)
}
