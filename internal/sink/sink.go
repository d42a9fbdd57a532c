// Package sink delivers violation events to downstream consumers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/speed"
)

// PayloadField is the stream field carrying the JSON body of a message.
const PayloadField = "payload"

// Sink publishes violation events.
type Sink interface {
	Publish(ctx context.Context, ev speed.Event) error
}

// RedisStream appends events to a Redis stream as {"payload": <json>}.
type RedisStream struct {
	rdb    redis.Cmdable
	stream string
}

// NewRedisStream returns a sink writing to stream.
func NewRedisStream(rdb redis.Cmdable, stream string) *RedisStream {
	return &RedisStream{rdb: rdb, stream: stream}
}

// Publish implements Sink.
func (s *RedisStream) Publish(ctx context.Context, ev speed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.LogicEventID, err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{PayloadField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", ev.LogicEventID, s.stream, err)
	}
	return nil
}

// Memory records published events. The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	events []speed.Event
}

// Publish implements Sink.
func (m *Memory) Publish(_ context.Context, ev speed.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []speed.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]speed.Event(nil), m.events...)
}

// Multi publishes to every sink in order and joins their errors. A failing
// sink does not stop the remaining ones.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev speed.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each event to the diagnostic log. It backs the dev replay mode
// when no stream or database is configured.
type Log struct{}

var logf = monitoring.Component("sink")

// Publish implements Sink.
func (Log) Publish(_ context.Context, ev speed.Event) error {
	logf("violation %s camera=%s track=%s speed=%.1f limit=%.1f (+%.1f%%)",
		ev.LogicEventID, ev.CameraID, ev.Payload.TrackingID,
		ev.Payload.SpeedKMPH, ev.Payload.SpeedLimitKMPH, ev.Payload.OverSpeedPercentage)
	return nil
}
