package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Publish(context.Context, ...*BuildingEvent) error { return errors.New("broker down") }

func TestToMessages(t *testing.T) {
	snapshot := uuid.Must(uuid.NewV7())
	parent := uuid.Must(uuid.NewV7())
	confidence := 1.0
	event := NewBuildingEvent(EventTypeBuildingMerged, "org-1", snapshot).
		WithParents(parent).
		WithMatch("SYSTEM_MATCH", &confidence)

	messages, err := toMessages("seed.buildings", []*BuildingEvent{event})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "seed.buildings", msg.Topic)
	assert.Equal(t, []byte("org-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("building.merged"), msg.Headers[0].Value)

	var decoded BuildingEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, snapshot, decoded.SnapshotID)
	assert.Equal(t, []uuid.UUID{parent}, decoded.ParentIDs)
	assert.Equal(t, SchemaVersion, decoded.SchemaVersion)
	require.NotNil(t, decoded.Confidence)
	assert.Equal(t, 1.0, *decoded.Confidence)
}

func TestMulti_JoinsErrors(t *testing.T) {
	rec := &Recorder{}
	err := Multi{rec, failing{}}.Publish(context.Background(), NewBuildingEvent(EventTypeBuildingPromoted, "org-1", uuid.New()))
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []EventType{EventTypeBuildingPromoted}, rec.Types())
}

func TestEmitter_SwallowsFailures(t *testing.T) {
	emitter := NewEmitter(failing{}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), NewBuildingEvent(EventTypeBuildingUpdated, "org-1", uuid.New()))
	})
}
