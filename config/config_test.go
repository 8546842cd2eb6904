package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SEED_DB_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "seed", cfg.AppName)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "db.internal", cfg.DatabaseHost)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)

	matching := cfg.Matching()
	assert.Equal(t, 1.0, matching.AutoMergeThreshold)
	assert.Equal(t, 0.4, matching.PossibleMatchFloor)
	assert.Len(t, matching.Rules, 5)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_driver: sqlite
db_path: /var/lib/seed.db
port: 8080
possible_match_floor: 0.5
match_rules:
  - field: pm_property_id
    comparator: exact
    normalizers: [lowercase, trim]
    weight: 1
`), 0o600))

	t.Setenv("SEED_PORT", "9090")
	t.Setenv("SEED_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "/var/lib/seed.db", cfg.DatabasePath)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)

	matching := cfg.Matching()
	assert.Equal(t, 0.5, matching.PossibleMatchFloor)
	require.Len(t, matching.Rules, 1)
	assert.Equal(t, "pm_property_id", matching.Rules[0].Field)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"SEED_DB_DRIVER": "mysql", "SEED_DB_HOST": "x"}},
		{name: "postgres without host", env: map[string]string{"SEED_DB_DRIVER": "postgres"}},
		{name: "floor above threshold", env: map[string]string{"SEED_DB_DRIVER": "sqlite", "SEED_POSSIBLE_MATCH_FLOOR": "1"}},
		{name: "tracing without endpoint", env: map[string]string{"SEED_DB_DRIVER": "sqlite", "SEED_TRACING_ENABLED": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_driver: sqlite
lock_ttl: 1m
redis_enabled: false
auto_merge_threshold: 0.9
`), 0o600))

	t.Setenv("SEED_LOCK_TTL", "90s")
	t.Setenv("SEED_REDIS_ENABLED", "true")
	t.Setenv("SEED_AUTO_MERGE_THRESHOLD", "0.95")
	t.Setenv("SEED_MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.LockTTL)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 0.95, cfg.AutoMergeThreshold)
	assert.Equal(t, 1024, cfg.MaxUploadBytes)
	// untouched keys keep the file value
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
}

func TestLoad_MalformedEnvironment(t *testing.T) {
	t.Setenv("SEED_DB_DRIVER", "sqlite")
	t.Setenv("SEED_PORT", "not-a-port")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind env vars")
}
