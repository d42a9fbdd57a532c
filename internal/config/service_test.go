package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFileMatchesConstants(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if got := cfg.GetIngressStream(); got != DefaultIngressStream {
		t.Errorf("GetIngressStream() = %q, want %q", got, DefaultIngressStream)
	}
	if got := cfg.GetStateTTL(); got != time.Hour {
		t.Errorf("GetStateTTL() = %v, want 1h", got)
	}
	if got := cfg.GetViolationDebounce(); got != 10*time.Second {
		t.Errorf("GetViolationDebounce() = %v, want 10s", got)
	}
	if got := cfg.GetPruneInterval(); got != DefaultPruneInterval {
		t.Errorf("GetPruneInterval() = %v, want %v", got, DefaultPruneInterval)
	}
	if cfg.GetTestModeSharedState() {
		t.Error("GetTestModeSharedState() = true, want false")
	}
	if _, ok := cfg.GetCalibrations()["dock-gate-01"]; !ok {
		t.Error("expected dock-gate-01 calibration in defaults file")
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &ServiceConfig{}

	assert.Equal(t, DefaultListenAddr, cfg.GetListenAddr())
	assert.Equal(t, DefaultStateBackend, cfg.GetStateBackend())
	assert.Equal(t, DefaultSQLitePath, cfg.GetSQLitePath())
	assert.Equal(t, DefaultRedisURL, cfg.GetRedisURL())
	assert.Equal(t, DefaultEgressStream, cfg.GetEgressStream())
	assert.Equal(t, DefaultDLQStream, cfg.GetDLQStream())
	assert.Equal(t, DefaultConsumerGroup, cfg.GetConsumerGroup())
	assert.Equal(t, DefaultConsumerName, cfg.GetConsumerName())
	assert.Equal(t, DefaultModelID, cfg.GetModelID())
	assert.Equal(t, time.Minute, cfg.GetDedupTTL())
	assert.Empty(t, cfg.GetCalibrations())
}

func TestLoadPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "state_backend": "sqlite",
  "violation_debounce_sec": 30,
  "calibrations": {"cam-2": {"homography": [[1,0,0],[0,1,0],[0,0,1]]}}
}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.GetStateBackend())
	assert.Equal(t, 30*time.Second, cfg.GetViolationDebounce())
	assert.Equal(t, DefaultIngressStream, cfg.GetIngressStream())
	cal := cfg.GetCalibrations()["cam-2"]
	assert.True(t, cal.HasHomography())
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "cfg.yaml", `{}`, ".json extension"},
		{"syntax", "bad.json", `{`, "parse config JSON"},
		{"backend", "backend.json", `{"state_backend":"etcd"}`, "state_backend"},
		{"ttl", "ttl.json", `{"state_ttl_sec":0}`, "state_ttl_sec"},
		{"prune", "prune.json", `{"prune_interval":"soon"}`, "prune_interval"},
		{"calibration", "cal.json", `{"calibrations":{"c":{"meters_per_pixel":-1}}}`, "calibrations[c]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	big := `{"model_id":"` + strings.Repeat("x", 1024*1024) + `"}`
	require.NoError(t, os.WriteFile(path, []byte(big), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REDIS_URL":              "redis://cache:6379/2",
		"INGRESS_STREAM":         "stream:det:test",
		"CONSUMER_NAME":          "speed-7",
		"VIOLATION_DEBOUNCE_SEC": "4",
		"STATE_TTL_SEC":          "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &ServiceConfig{}
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "redis://cache:6379/2", cfg.GetRedisURL())
	assert.Equal(t, "stream:det:test", cfg.GetIngressStream())
	assert.Equal(t, "speed-7", cfg.GetConsumerName())
	assert.Equal(t, 4*time.Second, cfg.GetViolationDebounce())
	assert.Equal(t, time.Hour, cfg.GetStateTTL())

	env["DEDUP_TTL_SEC"] = "sixty"
	err := (&ServiceConfig{}).ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUP_TTL_SEC")

	env["DEDUP_TTL_SEC"] = "-1"
	assert.Error(t, (&ServiceConfig{}).ApplyEnv(lookup))
}
