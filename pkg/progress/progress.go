// Package progress reports how far a long running import, mapping or
// matching job has gone. Values are percentages keyed by job.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afrojet/seed/pkg/redis"
)

type Job string

const (
	JobSaveRawData    Job = "save_raw_data"
	JobMapData        Job = "map_data"
	JobMatchBuildings Job = "match_buildings"
)

// Key renders the progress key of a job for one import file.
func Key(job Job, importFileID uuid.UUID) string {
	return fmt.Sprintf(":1:SEED:%s:PROG:%s", job, importFileID)
}

// Sink is last-write-wins per key.
type Sink interface {
	Set(ctx context.Context, key string, value float64) error
	Get(ctx context.Context, key string) (float64, error)
}

// Percent returns done/total as a percentage, 100 when there is nothing to do.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

type MemorySink struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{values: map[string]float64{}}
}

func (s *MemorySink) Set(_ context.Context, key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemorySink) Get(_ context.Context, key string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// RedisSink stores progress in redis so every instance sees it.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, ttl: ttl}
}

func (s *RedisSink) Set(ctx context.Context, key string, value float64) error {
	return s.client.SetFloat(ctx, key, value, s.ttl)
}

// Get returns 0 for a key that was never set.
func (s *RedisSink) Get(ctx context.Context, key string) (float64, error) {
	value, _, err := s.client.GetFloat(ctx, key)
	return value, err
}

// Noop discards progress.
type Noop struct{}

func (Noop) Set(context.Context, string, float64) error   { return nil }
func (Noop) Get(context.Context, string) (float64, error) { return 0, nil }
