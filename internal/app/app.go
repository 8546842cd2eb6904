// Package app wires configuration, backing stores and engines into one
// running service.
package app

import (
	"context"
	"time"

	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"

	"github.com/afrojet/seed/config"
	seeddb "github.com/afrojet/seed/db"
	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/columnmapping"
	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/buildings"
	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/database"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/graph"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/mapping"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/redis"
	"github.com/afrojet/seed/pkg/startup"
	"github.com/afrojet/seed/pkg/tracing"
	"github.com/afrojet/seed/pkg/unmerge"
)

const (
	depTracing    = "tracing"
	depDatabase   = "database"
	depMigrations = "migrations"
	depRedis      = "redis"
	depGraph      = "graph"
	depKafka      = "kafka"
	depServices   = "services"
)

// Services are the engines behind the HTTP routes and CLI commands.
type Services struct {
	Snapshots  *snapshot.Repository
	Canonicals *canonical.Repository
	Imports    *importfile.Repository
	Mappings   *columnmapping.Repository

	Traverser *lineage.Traverser
	Ledger    *ledger.Ledger
	Merger    *merging.Engine
	Mapper    *columnmapper.Mapper
	Importer  *importer.Importer
	Executor  *mapping.Executor
	Matcher   *matching.Engine
	Unmerger  *unmerge.Engine
	Buildings *buildings.Service

	Locker   locking.Locker
	Progress progress.Sink
	Emitter  *events.Emitter
}

type App struct {
	Config *config.Config
	Logger ectologger.Logger

	DB       database.DB
	Redis    *redis.Client
	Graph    *graph.Client
	Kafka    *events.KafkaPublisher
	Services *Services

	// Container resolves Services for route handlers.
	Container ectocontainer.DIContainer

	startup         *startup.Startup
	shutdownTracing func(context.Context) error
}

// Options select which dependencies Start brings up. The CLI's migrate
// command needs nothing but the database.
type Options struct {
	SkipMigrations bool
	MigrationsOnly bool
}

func New(cfg *config.Config, logger ectologger.Logger, opts Options) *App {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		startup: startup.New(logger, cfg.StartupMaxAttempts),
	}

	a.startup.Add(startup.Func{Name: depDatabase, OnStart: a.openDatabase, OnStop: a.closeDatabase})
	if (cfg.DatabaseMigrateOnStart && !opts.SkipMigrations) || opts.MigrationsOnly {
		a.startup.Add(startup.Func{Name: depMigrations, Requires: []string{depDatabase}, OnStart: a.migrate})
	}
	if opts.MigrationsOnly {
		return a
	}

	required := []string{depDatabase}
	if cfg.TracingEnabled {
		a.startup.Add(startup.Func{Name: depTracing, OnStart: a.startTracing, OnStop: a.stopTracing})
		required = append(required, depTracing)
	}
	if cfg.RedisEnabled {
		a.startup.Add(startup.Func{Name: depRedis, OnStart: a.openRedis, OnStop: a.closeRedis})
		required = append(required, depRedis)
	}
	if cfg.GraphEnabled {
		a.startup.Add(startup.Func{Name: depGraph, OnStart: a.openGraph, OnStop: a.closeGraph})
		required = append(required, depGraph)
	}
	if cfg.KafkaEnabled {
		a.startup.Add(startup.Func{Name: depKafka, OnStart: a.openKafka, OnStop: a.closeKafka})
		required = append(required, depKafka)
	}
	if cfg.DatabaseMigrateOnStart && !opts.SkipMigrations {
		required = append(required, depMigrations)
	}
	a.startup.Add(startup.Func{Name: depServices, Requires: required, OnStart: a.buildServices})
	return a
}

func (a *App) Start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return a.startup.Stop(ctx)
}

func (a *App) openDatabase(ctx context.Context) error {
	if a.DB != nil {
		return nil
	}
	db, err := database.Open(ctx, database.Config{
		Driver:          a.Config.DatabaseDriver,
		Host:            a.Config.DatabaseHost,
		Port:            a.Config.DatabasePort,
		UserName:        a.Config.DatabaseUserName,
		Password:        a.Config.DatabasePassword,
		Name:            a.Config.DatabaseName,
		SSLMode:         a.Config.DatabaseSSLMode,
		Path:            a.Config.DatabasePath,
		MaxOpenConns:    a.Config.DatabaseMaxOpenConns,
		MaxIdleConns:    a.Config.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.Config.DatabaseConnMaxLifetime,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db
	return nil
}

func (a *App) closeDatabase(context.Context) error {
	if a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	a.DB = nil
	return err
}

func (a *App) migrate(context.Context) error {
	ms := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		Migrations:   seeddb.Migrations(),
		Version:      uint(a.Config.DatabaseMigrationVersion),
		Force:        a.Config.DatabaseMigrationForce,
		AutoRollback: a.Config.DatabaseMigrationAutoRollback,
	})
	return ms.Migrate(a.DB)
}

func (a *App) startTracing(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, tracing.OTLPConfig{
		ServiceName: a.Config.AppName,
		Endpoint:    a.Config.OTLPEndpoint,
		Protocol:    a.Config.OTLPProtocol,
		Insecure:    a.Config.OTLPInsecure,
		Timeout:     a.Config.OTLPTimeout,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.shutdownTracing == nil {
		return nil
	}
	return a.shutdownTracing(ctx)
}

func (a *App) openRedis(context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     a.Config.RedisHost,
		Port:     a.Config.RedisPort,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Redis = client
	return nil
}

func (a *App) closeRedis(context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Close()
}

func (a *App) openGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.Config.GraphDBHost,
		Port:     a.Config.GraphDBPort,
		Username: a.Config.GraphDBUser,
		Password: a.Config.GraphDBPassword,
	}, a.Logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	a.Graph = client
	return nil
}

func (a *App) closeGraph(ctx context.Context) error {
	if a.Graph == nil {
		return nil
	}
	return a.Graph.Close(ctx)
}

func (a *App) openKafka(context.Context) error {
	a.Kafka = events.NewKafkaPublisher(events.ProducerConfig{
		Brokers:      a.Config.KafkaBrokers,
		Topic:        a.Config.KafkaTopic,
		BatchSize:    a.Config.KafkaBatchSize,
		BatchTimeout: time.Duration(a.Config.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.Config.KafkaRequiredAcks,
		Compression:  a.Config.KafkaCompression,
	}, a.Logger)
	return nil
}

func (a *App) closeKafka(context.Context) error {
	if a.Kafka == nil {
		return nil
	}
	return a.Kafka.Close()
}

// publisher fans events out to every enabled sink.
func (a *App) publisher() events.Publisher {
	var publishers events.Multi
	if a.Kafka != nil {
		publishers = append(publishers, a.Kafka)
	}
	if a.Graph != nil {
		publishers = append(publishers, graph.NewLineageProjection(a.Graph, a.Logger))
	}
	if len(publishers) == 0 {
		return events.Noop{}
	}
	return publishers
}

func (a *App) buildServices(context.Context) error {
	cfg := a.Config
	s := &Services{
		Snapshots:  snapshot.NewRepository(a.DB, a.Logger),
		Canonicals: canonical.NewRepository(a.DB, a.Logger),
		Imports:    importfile.NewRepository(a.DB, a.Logger),
		Mappings:   columnmapping.NewRepository(a.DB, a.Logger),
		Locker:     locking.NewMemoryLocker(),
		Progress:   progress.NewMemorySink(),
		Emitter:    events.NewEmitter(a.publisher(), a.Logger),
	}
	if a.Redis != nil {
		s.Locker = locking.NewRedisLocker(redis.NewLocker(a.Redis, cfg.AppName+":lock:"), cfg.LockTTL, cfg.LockWait)
		s.Progress = progress.NewRedisSink(a.Redis, cfg.ProgressTTL)
	}

	s.Traverser = lineage.NewTraverser(s.Snapshots, a.Logger)
	s.Ledger = ledger.New(s.Canonicals, s.Snapshots, a.Logger)
	s.Merger = merging.NewEngine(s.Snapshots, a.Logger)
	s.Mapper = columnmapper.NewMapper(s.Mappings, a.Logger).WithThreshold(cfg.SuggestionThreshold)
	s.Importer = importer.NewImporter(a.DB, s.Snapshots, s.Imports, s.Progress, a.Logger, cfg.ImportBatchSize)
	s.Executor = mapping.NewExecutor(a.DB, s.Snapshots, s.Imports, s.Mapper, s.Progress, a.Logger, cfg.MapBatchSize)

	matcher, err := matching.NewEngine(a.Logger, a.DB, s.Snapshots, s.Imports, s.Ledger, s.Merger, s.Locker, s.Emitter, s.Progress, cfg.Matching(), cfg.MatchBatchSize)
	if err != nil {
		return err
	}
	s.Matcher = matcher
	s.Unmerger = unmerge.NewEngine(a.Logger, a.DB, s.Snapshots, s.Ledger, s.Merger, s.Locker, s.Emitter)
	s.Buildings = buildings.NewService(a.Logger, a.DB, s.Snapshots, s.Canonicals, s.Ledger, s.Merger, s.Locker, s.Emitter)

	container, err := a.newContainer(s)
	if err != nil {
		return err
	}

	a.Services = s
	a.Container = container
	return nil
}
