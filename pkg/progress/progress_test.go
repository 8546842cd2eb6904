package progress

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrojet/seed/pkg/redis"
)

func TestKey(t *testing.T) {
	id := uuid.MustParse("0190b0c4-0000-7000-8000-000000000001")
	assert.Equal(t, ":1:SEED:save_raw_data:PROG:0190b0c4-0000-7000-8000-000000000001", Key(JobSaveRawData, id))
	assert.Equal(t, ":1:SEED:match_buildings:PROG:0190b0c4-0000-7000-8000-000000000001", Key(JobMatchBuildings, id))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50.0, Percent(1, 2))
	assert.Equal(t, 100.0, Percent(0, 0))
}

func TestSinks(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	client, err := redis.NewClient(redis.Config{Host: mr.Host(), Port: port}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	defer client.Close()

	sinks := map[string]Sink{
		"memory": NewMemorySink(),
		"redis":  NewRedisSink(client, time.Hour),
	}

	for name, sink := range sinks {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := sink.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Zero(t, v)

			require.NoError(t, sink.Set(ctx, "job", 12.5))
			require.NoError(t, sink.Set(ctx, "job", 75))
			v, err = sink.Get(ctx, "job")
			require.NoError(t, err)
			assert.Equal(t, 75.0, v)
		})
	}
}
