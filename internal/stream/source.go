// Package stream feeds frames from a message source through the speed
// engine and publishes the resulting violations.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/sink"
)

// Defaults for the Redis consumer group.
const (
	DefaultBatchSize = 64
	DefaultBlock     = 2 * time.Second
)

var logf = monitoring.Component("stream")

// Message is one frame read from a source.
type Message struct {
	ID      string
	Payload []byte
}

// ErrSourceFailed marks a read error the source cannot recover from. The
// worker stops instead of retrying.
var ErrSourceFailed = errors.New("source failed")

// Source delivers frames and takes acknowledgements.
// Read returns io.EOF once a finite source is exhausted. Messages returned
// together with an error are still delivered.
type Source interface {
	Read(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, ids ...string) error
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

// deadLetter is the body routed to the dead-letter stream.
type deadLetter struct {
	Error string `json:"error"`
	Data  string `json:"data"`
}

// RedisConfig names the streams and consumer group of a RedisSource.
type RedisConfig struct {
	Stream    string
	DLQStream string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// RedisSource reads frames from a Redis stream through a consumer group.
type RedisSource struct {
	rdb redis.Cmdable
	cfg RedisConfig
}

// NewRedisSource returns a source for cfg. Zero batch size and block
// duration select the defaults.
func NewRedisSource(rdb redis.Cmdable, cfg RedisConfig) *RedisSource {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	return &RedisSource{rdb: rdb, cfg: cfg}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (s *RedisSource) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", s.cfg.Group, s.cfg.Stream, err)
	}
	return nil
}

// Read implements Source. A block timeout yields an empty batch.
func (s *RedisSource) Read(ctx context.Context) ([]Message, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, st := range streams {
		for _, m := range st.Messages {
			msgs = append(msgs, Message{ID: m.ID, Payload: payloadOf(m.Values)})
		}
	}
	return msgs, nil
}

// payloadOf returns the frame body carried in the "payload" or "data" field.
func payloadOf(values map[string]interface{}) []byte {
	for _, field := range []string{sink.PayloadField, "data"} {
		switch v := values[field].(type) {
		case string:
			return []byte(v)
		case []byte:
			return v
		}
	}
	return nil
}

// Ack implements Source.
func (s *RedisSource) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, s.cfg.Stream, s.cfg.Group, ids...).Err()
}

// DeadLetter implements Source.
func (s *RedisSource) DeadLetter(ctx context.Context, msg Message, cause error) error {
	body, err := json.Marshal(deadLetter{Error: cause.Error(), Data: string(msg.Payload)})
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.DLQStream,
		Values: map[string]interface{}{sink.PayloadField: string(body)},
	}).Err()
}

// FileSource replays newline-delimited JSON frames, for development.
// Blank lines are skipped. Dead letters are logged.
type FileSource struct {
	f       *os.File
	scanner *bufio.Scanner
	batch   int
	line    int
	err     error
}

// OpenFile opens a replay file.
func OpenFile(path string, batch int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &FileSource{f: f, scanner: sc, batch: batch}, nil
}

// Read implements Source. A scanner failure, such as an oversized line, ends
// the replay: the lines read before it are returned first, then every later
// call returns an error wrapping ErrSourceFailed.
func (s *FileSource) Read(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	var msgs []Message
	for len(msgs) < s.batch && s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}
		msgs = append(msgs, Message{ID: fmt.Sprintf("line-%d", s.line), Payload: []byte(text)})
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("%w: replay line %d: %w", ErrSourceFailed, s.line+1, err)
		if len(msgs) > 0 {
			return msgs, nil
		}
		return nil, s.err
	}
	if len(msgs) == 0 {
		return nil, io.EOF
	}
	return msgs, nil
}

// Ack implements Source.
func (s *FileSource) Ack(context.Context, ...string) error { return nil }

// DeadLetter implements Source.
func (s *FileSource) DeadLetter(_ context.Context, msg Message, cause error) error {
	logf("dead letter %s: %v", msg.ID, cause)
	return nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}
