package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/frame"
)

// DefaultConfigPath is the path to the canonical service defaults file.
const DefaultConfigPath = "config/speedwatch.defaults.json"

// State backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Defaults used when a field is not set.
const (
	DefaultListenAddr           = ":8080"
	DefaultStateBackend         = BackendRedis
	DefaultSQLitePath           = "speedwatch.db"
	DefaultRedisURL             = "redis://localhost:6379/0"
	DefaultIngressStream        = "stream:det:yolo"
	DefaultEgressStream         = "stream:logic:events"
	DefaultDLQStream            = "stream:deadletter:logic"
	DefaultConsumerGroup        = "cg:logic:speed"
	DefaultConsumerName         = "speed-local"
	DefaultStateTTLSec          = 3600
	DefaultDedupTTLSec          = 60
	DefaultViolationDebounceSec = 10
	DefaultModelID              = "AGV-VA-SPED"
	DefaultPruneInterval        = time.Minute
)

// ServiceConfig is the service configuration. Unset fields fall back to
// the defaults through the Get* accessors, so partial files are safe.
type ServiceConfig struct {
	ListenAddr   *string `json:"listen,omitempty"`
	StateBackend *string `json:"state_backend,omitempty"`
	SQLitePath   *string `json:"sqlite_path,omitempty"`

	// Redis transport
	RedisURL      *string `json:"redis_url,omitempty"`
	IngressStream *string `json:"ingress_stream,omitempty"`
	EgressStream  *string `json:"egress_stream,omitempty"`
	DLQStream     *string `json:"dlq_stream,omitempty"`
	ConsumerGroup *string `json:"consumer_group,omitempty"`
	ConsumerName  *string `json:"consumer_name,omitempty"`

	// Engine
	StateTTLSec          *int    `json:"state_ttl_sec,omitempty"`
	DedupTTLSec          *int    `json:"dedup_ttl_sec,omitempty"`
	ViolationDebounceSec *int    `json:"violation_debounce_sec,omitempty"`
	ModelID              *string `json:"model_id,omitempty"`
	TestModeSharedState  *bool   `json:"test_mode_shared_state,omitempty"`
	PruneInterval        *string `json:"prune_interval,omitempty"` // duration string like "1m"

	Calibrations map[string]frame.Calibration `json:"calibrations,omitempty"`
}

// Load reads a ServiceConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func Load(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *ServiceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/speedwatch/
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *ServiceConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]**string{
		"REDIS_URL":      &c.RedisURL,
		"INGRESS_STREAM": &c.IngressStream,
		"EGRESS_STREAM":  &c.EgressStream,
		"DLQ_STREAM":     &c.DLQStream,
		"CONSUMER_GROUP": &c.ConsumerGroup,
		"CONSUMER_NAME":  &c.ConsumerName,
		"STATE_BACKEND":  &c.StateBackend,
		"SQLITE_PATH":    &c.SQLitePath,
		"MODEL_ID":       &c.ModelID,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			v := v
			*field = &v
		}
	}

	ints := map[string]**int{
		"STATE_TTL_SEC":          &c.StateTTLSec,
		"DEDUP_TTL_SEC":          &c.DedupTTLSec,
		"VIOLATION_DEBOUNCE_SEC": &c.ViolationDebounceSec,
	}
	for name, field := range ints {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = &n
	}
	return c.Validate()
}

// Validate checks that the configured values are usable.
func (c *ServiceConfig) Validate() error {
	if c.StateBackend != nil {
		switch *c.StateBackend {
		case BackendMemory, BackendRedis, BackendSQLite:
		default:
			return fmt.Errorf("state_backend must be one of memory, redis, sqlite; got %q", *c.StateBackend)
		}
	}
	for name, v := range map[string]*int{
		"state_ttl_sec":          c.StateTTLSec,
		"dedup_ttl_sec":          c.DedupTTLSec,
		"violation_debounce_sec": c.ViolationDebounceSec,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.PruneInterval != nil && *c.PruneInterval != "" {
		if _, err := time.ParseDuration(*c.PruneInterval); err != nil {
			return fmt.Errorf("invalid prune_interval '%s': %w", *c.PruneInterval, err)
		}
	}
	for id, cal := range c.Calibrations {
		if err := calibration.Check(cal); err != nil {
			return fmt.Errorf("calibrations[%s]: %w", id, err)
		}
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func secondsOr(p *int, def int) time.Duration {
	if p == nil {
		return time.Duration(def) * time.Second
	}
	return time.Duration(*p) * time.Second
}

func (c *ServiceConfig) GetListenAddr() string    { return stringOr(c.ListenAddr, DefaultListenAddr) }
func (c *ServiceConfig) GetStateBackend() string  { return stringOr(c.StateBackend, DefaultStateBackend) }
func (c *ServiceConfig) GetSQLitePath() string    { return stringOr(c.SQLitePath, DefaultSQLitePath) }
func (c *ServiceConfig) GetRedisURL() string      { return stringOr(c.RedisURL, DefaultRedisURL) }
func (c *ServiceConfig) GetIngressStream() string { return stringOr(c.IngressStream, DefaultIngressStream) }
func (c *ServiceConfig) GetEgressStream() string  { return stringOr(c.EgressStream, DefaultEgressStream) }
func (c *ServiceConfig) GetDLQStream() string     { return stringOr(c.DLQStream, DefaultDLQStream) }
func (c *ServiceConfig) GetConsumerGroup() string { return stringOr(c.ConsumerGroup, DefaultConsumerGroup) }
func (c *ServiceConfig) GetConsumerName() string  { return stringOr(c.ConsumerName, DefaultConsumerName) }
func (c *ServiceConfig) GetModelID() string       { return stringOr(c.ModelID, DefaultModelID) }

// GetStateTTL returns the sliding expiry of track state.
func (c *ServiceConfig) GetStateTTL() time.Duration {
	return secondsOr(c.StateTTLSec, DefaultStateTTLSec)
}

// GetDedupTTL returns the lifetime of a dedupe guard.
func (c *ServiceConfig) GetDedupTTL() time.Duration {
	return secondsOr(c.DedupTTLSec, DefaultDedupTTLSec)
}

// GetViolationDebounce returns the minimum gap between violations of a track.
func (c *ServiceConfig) GetViolationDebounce() time.Duration {
	return secondsOr(c.ViolationDebounceSec, DefaultViolationDebounceSec)
}

// GetTestModeSharedState reports whether test-mode requests share state
// with the production pipeline.
func (c *ServiceConfig) GetTestModeSharedState() bool {
	return c.TestModeSharedState != nil && *c.TestModeSharedState
}

// GetPruneInterval returns how often expired state is pruned.
func (c *ServiceConfig) GetPruneInterval() time.Duration {
	if c.PruneInterval == nil || *c.PruneInterval == "" {
		return DefaultPruneInterval
	}
	d, err := time.ParseDuration(*c.PruneInterval)
	if err != nil {
		return DefaultPruneInterval
	}
	return d
}

// GetCalibrations returns a copy of the configured calibrations.
func (c *ServiceConfig) GetCalibrations() map[string]frame.Calibration {
	out := make(map[string]frame.Calibration, len(c.Calibrations))
	for id, cal := range c.Calibrations {
		out[id] = cal
	}
	return out
}
