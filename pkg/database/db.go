package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
	DriverName() string
	PingContext(ctx context.Context) error
	Ping() error
	Rebind(query string) string
	SetConnMaxLifetime(d time.Duration)
	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)
	Stats() sql.DBStats

	// GetTx returns the transaction carried by ctx, or begins a new one.
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	// Executor returns the open transaction carried by ctx, falling back to the pool.
	Executor(ctx context.Context) Querier
	// Flavor is the go-sqlbuilder dialect matching DriverName.
	Flavor() sqlbuilder.Flavor
	// SQL exposes the raw handle for migration drivers.
	SQL() *sql.DB
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
	flavor sqlbuilder.Flavor
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
		flavor: FlavorFor(db.DriverName()),
	}
}

// FlavorFor maps a database/sql driver name to its go-sqlbuilder flavor.
func FlavorFor(driverName string) sqlbuilder.Flavor {
	switch driverName {
	case DriverSQLite, "sqlite3":
		return sqlbuilder.SQLite
	default:
		return sqlbuilder.PostgreSQL
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Executor(ctx context.Context) Querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

func (db *DatabaseInstance) Flavor() sqlbuilder.Flavor {
	return db.flavor
}

func (db *DatabaseInstance) SQL() *sql.DB {
	return db.DB.DB
}

// Config describes how to reach the backing store.
type Config struct {
	Driver          string
	Host            string
	Port            string
	UserName        string
	Password        string
	Name            string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the driver specific connection string.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		if c.Path == "" {
			return "file:seed?mode=memory&cache=shared&_pragma=foreign_keys(1)"
		}
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", c.Path)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.UserName, c.Password, c.Name, c.SSLMode)
}

// Open connects to the configured store and applies the pool settings.
func Open(ctx context.Context, cfg Config, logger ectologger.Logger) (DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN())
	if err != nil {
		logger.WithError(err).Errorf("Failed to connect to %s database", cfg.Driver)
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// a single writer keeps sqlite from returning SQLITE_BUSY under the engines' transactions
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	logger.WithField("driver", cfg.Driver).Info("Connected to database")
	return NewDatabaseInstance(db, logger), nil
}
