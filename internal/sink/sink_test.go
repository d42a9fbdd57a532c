package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/speed"
)

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, speed.Event) error { return f.err }

func TestMemory(t *testing.T) {
	var m Memory
	require.NoError(t, m.Publish(context.Background(), speed.Event{LogicEventID: "a"}))
	require.NoError(t, m.Publish(context.Background(), speed.Event{LogicEventID: "b"}))

	got := m.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].LogicEventID)

	got[0].LogicEventID = "changed"
	assert.Equal(t, "a", m.Events()[0].LogicEventID)
}

func TestMultiContinuesPastFailure(t *testing.T) {
	var first, last Memory
	boom := errors.New("boom")
	m := Multi{&first, failingSink{boom}, &last}

	err := m.Publish(context.Background(), speed.Event{LogicEventID: "a"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, last.Events(), 1)

	assert.NoError(t, Multi{}.Publish(context.Background(), speed.Event{}))
}

func TestRedisStream(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	stream := "test:sink:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, stream) })

	s := NewRedisStream(rdb, stream)
	ev := speed.Event{LogicEventID: uuid.NewString(), CameraID: "cam", Type: speed.EventType}
	require.NoError(t, s.Publish(ctx, ev))

	msgs, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got speed.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values[PayloadField].(string)), &got))
	assert.Equal(t, ev.LogicEventID, got.LogicEventID)
	assert.Equal(t, "cam", got.CameraID)
}

func TestLog(t *testing.T) {
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	ev := speed.Event{LogicEventID: "e1", CameraID: "cam", Payload: speed.Payload{
		TrackingID: "t9", SpeedKMPH: 72, SpeedLimitKMPH: 60, OverSpeedPercentage: 20,
	}}
	require.NoError(t, Log{}.Publish(context.Background(), ev))
	require.Len(t, lines, 1)
	assert.Equal(t, "[sink] violation e1 camera=cam track=t9 speed=72.0 limit=60.0 (+20.0%)", lines[0])
}
