package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/afrojet/seed/pkg/matching"
)

type Config struct {
	AppName                       string        `koanf:"app_name" env:"SEED_APP_NAME" validate:"required"`
	Port                          int           `koanf:"port" env:"SEED_PORT" validate:"gt=0,lt=65536"`
	LogLevel                      string        `koanf:"log_level" env:"SEED_LOG_LEVEL" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool          `koanf:"pretty_logs" env:"SEED_PRETTY_LOGS"`
	HttpServerWriteTimeoutSeconds int           `koanf:"http_server_write_timeout_seconds" env:"SEED_HTTP_SERVER_WRITE_TIMEOUT_SECONDS"`
	HttpServerReadTimeoutSeconds  int           `koanf:"http_server_read_timeout_seconds" env:"SEED_HTTP_SERVER_READ_TIMEOUT_SECONDS"`
	HttpServerIdleTimeoutSeconds  int           `koanf:"http_server_idle_timeout_seconds" env:"SEED_HTTP_SERVER_IDLE_TIMEOUT_SECONDS"`
	MaxUploadBytes                int           `koanf:"max_upload_bytes" env:"SEED_MAX_UPLOAD_BYTES" validate:"gt=0"`
	StartupMaxAttempts            int           `koanf:"startup_max_attempts" env:"SEED_STARTUP_MAX_ATTEMPTS" validate:"gt=0"`
	ShutdownTimeout               time.Duration `koanf:"shutdown_timeout" env:"SEED_SHUTDOWN_TIMEOUT"`

	// Relational store
	DatabaseDriver                string        `koanf:"db_driver" env:"SEED_DB_DRIVER" validate:"oneof=postgres sqlite"`
	DatabaseHost                  string        `koanf:"db_host" env:"SEED_DB_HOST" validate:"required_if=DatabaseDriver postgres"`
	DatabasePort                  string        `koanf:"db_port" env:"SEED_DB_PORT"`
	DatabaseUserName              string        `koanf:"db_user_name" env:"SEED_DB_USER_NAME"`
	DatabasePassword              string        `koanf:"db_password" env:"SEED_DB_PASSWORD"`
	DatabaseName                  string        `koanf:"db_name" env:"SEED_DB_NAME"`
	DatabaseSSLMode               string        `koanf:"db_ssl_mode" env:"SEED_DB_SSL_MODE"`
	DatabasePath                  string        `koanf:"db_path" env:"SEED_DB_PATH"`
	DatabaseMaxOpenConns          int           `koanf:"db_max_open_conns" env:"SEED_DB_MAX_OPEN_CONNS"`
	DatabaseMaxIdleConns          int           `koanf:"db_max_idle_conns" env:"SEED_DB_MAX_IDLE_CONNS"`
	DatabaseConnMaxLifetime       time.Duration `koanf:"db_conn_max_lifetime" env:"SEED_DB_CONN_MAX_LIFETIME"`
	DatabaseMigrateOnStart        bool          `koanf:"db_migrate_on_start" env:"SEED_DB_MIGRATE_ON_START"`
	DatabaseMigrationVersion      int           `koanf:"db_migration_version" env:"SEED_DB_MIGRATION_VERSION" validate:"gte=0"`
	DatabaseMigrationForce        int           `koanf:"db_migration_force" env:"SEED_DB_MIGRATION_FORCE"`
	DatabaseMigrationAutoRollback bool          `koanf:"db_migration_auto_rollback" env:"SEED_DB_MIGRATION_AUTO_ROLLBACK"`

	// Redis backs the organization locks and progress keys when enabled
	RedisEnabled  bool          `koanf:"redis_enabled" env:"SEED_REDIS_ENABLED"`
	RedisHost     string        `koanf:"redis_host" env:"SEED_REDIS_HOST" validate:"required_if=RedisEnabled true"`
	RedisPort     int           `koanf:"redis_port" env:"SEED_REDIS_PORT"`
	RedisPassword string        `koanf:"redis_password" env:"SEED_REDIS_PASSWORD"`
	RedisDB       int           `koanf:"redis_db" env:"SEED_REDIS_DB"`
	LockTTL       time.Duration `koanf:"lock_ttl" env:"SEED_LOCK_TTL" validate:"gt=0"`
	LockWait      time.Duration `koanf:"lock_wait" env:"SEED_LOCK_WAIT" validate:"gt=0"`
	ProgressTTL   time.Duration `koanf:"progress_ttl" env:"SEED_PROGRESS_TTL"`

	// Kafka producer for building events
	KafkaEnabled      bool     `koanf:"kafka_enabled" env:"SEED_KAFKA_ENABLED"`
	KafkaBrokers      []string `koanf:"kafka_brokers" env:"SEED_KAFKA_BROKERS" validate:"required_if=KafkaEnabled true"`
	KafkaTopic        string   `koanf:"kafka_topic" env:"SEED_KAFKA_TOPIC"`
	KafkaBatchSize    int      `koanf:"kafka_batch_size" env:"SEED_KAFKA_BATCH_SIZE"`
	KafkaBatchTimeout int      `koanf:"kafka_batch_timeout_ms" env:"SEED_KAFKA_BATCH_TIMEOUT_MS"`
	KafkaRequiredAcks int      `koanf:"kafka_required_acks" env:"SEED_KAFKA_REQUIRED_ACKS"`
	KafkaCompression  string   `koanf:"kafka_compression" env:"SEED_KAFKA_COMPRESSION" validate:"omitempty,oneof=snappy gzip lz4 zstd none"`

	// Graph Database (Memgraph)
	GraphEnabled    bool   `koanf:"graph_enabled" env:"SEED_GRAPH_ENABLED"`
	GraphDBHost     string `koanf:"graph_db_host" env:"SEED_GRAPH_DB_HOST"`
	GraphDBPort     int    `koanf:"graph_db_port" env:"SEED_GRAPH_DB_PORT"`
	GraphDBUser     string `koanf:"graph_db_user" env:"SEED_GRAPH_DB_USER"`
	GraphDBPassword string `koanf:"graph_db_password" env:"SEED_GRAPH_DB_PASSWORD"`

	TracingEnabled bool          `koanf:"tracing_enabled" env:"SEED_TRACING_ENABLED"`
	OTLPEndpoint   string        `koanf:"otlp_endpoint" env:"SEED_OTLP_ENDPOINT" validate:"required_if=TracingEnabled true"`
	OTLPProtocol   string        `koanf:"otlp_protocol" env:"SEED_OTLP_PROTOCOL" validate:"oneof=grpc http"`
	OTLPInsecure   bool          `koanf:"otlp_insecure" env:"SEED_OTLP_INSECURE"`
	OTLPTimeout    time.Duration `koanf:"otlp_timeout" env:"SEED_OTLP_TIMEOUT"`

	// Processing
	ImportBatchSize     int                  `koanf:"import_batch_size" env:"SEED_IMPORT_BATCH_SIZE" validate:"gt=0"`
	MapBatchSize        int                  `koanf:"map_batch_size" env:"SEED_MAP_BATCH_SIZE" validate:"gt=0"`
	MatchBatchSize      int                  `koanf:"match_batch_size" env:"SEED_MATCH_BATCH_SIZE" validate:"gt=0"`
	SuggestionThreshold int                  `koanf:"suggestion_threshold" env:"SEED_SUGGESTION_THRESHOLD" validate:"gte=0,lte=100"`
	AutoMergeThreshold  float64              `koanf:"auto_merge_threshold" env:"SEED_AUTO_MERGE_THRESHOLD" validate:"gt=0,lte=1"`
	PossibleMatchFloor  float64              `koanf:"possible_match_floor" env:"SEED_POSSIBLE_MATCH_FLOOR" validate:"gte=0,ltfield=AutoMergeThreshold"`
	MatchRules          []matching.FieldRule `koanf:"match_rules" validate:"omitempty,dive"`
}

func defaults() map[string]any {
	return map[string]any{
		"app_name":                          "seed",
		"port":                              3010,
		"log_level":                         "info",
		"pretty_logs":                       false,
		"http_server_write_timeout_seconds": 60,
		"http_server_read_timeout_seconds":  60,
		"http_server_idle_timeout_seconds":  120,
		"max_upload_bytes":                  64 << 20,
		"startup_max_attempts":              5,
		"shutdown_timeout":                  "15s",

		"db_driver":                  "postgres",
		"db_port":                    "5432",
		"db_name":                    "seed",
		"db_ssl_mode":                "disable",
		"db_max_open_conns":          25,
		"db_max_idle_conns":          10,
		"db_conn_max_lifetime":       "10m",
		"db_migrate_on_start":        true,
		"db_migration_auto_rollback": true,

		"redis_enabled": false,
		"redis_host":    "localhost",
		"redis_port":    6379,
		"lock_ttl":      "5m",
		"lock_wait":     "30s",
		"progress_ttl":  "24h",

		"kafka_enabled":          false,
		"kafka_brokers":          []string{"localhost:9092"},
		"kafka_topic":            "seed.building-events",
		"kafka_batch_size":       100,
		"kafka_batch_timeout_ms": 100,
		"kafka_required_acks":    1,
		"kafka_compression":      "snappy",

		"graph_enabled": false,
		"graph_db_host": "localhost",
		"graph_db_port": 7687,

		"tracing_enabled": false,
		"otlp_protocol":   "grpc",
		"otlp_insecure":   true,
		"otlp_timeout":    "10s",

		"import_batch_size":    100,
		"map_batch_size":       100,
		"match_batch_size":     100,
		"suggestion_threshold": 20,
		"auto_merge_threshold": 1.0,
		"possible_match_floor": 0.4,
	}
}

// Load layers defaults, the optional YAML file at path, .env files and
// SEED_ prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// .env.local overrides .env; neither overrides the real environment
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			if err := godotenv.Load(name); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// SEED_DB_HOST overrides db_host
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Matching returns the scoring configuration, falling back to the built-in
// field rules when none are configured.
func (c *Config) Matching() matching.Config {
	cfg := matching.DefaultConfig()
	cfg.AutoMergeThreshold = c.AutoMergeThreshold
	cfg.PossibleMatchFloor = c.PossibleMatchFloor
	if len(c.MatchRules) > 0 {
		cfg.Rules = c.MatchRules
	}
	return cfg
}
