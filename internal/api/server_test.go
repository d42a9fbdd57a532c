package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/speed"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/testutil"
	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/version"
)

type stubReloader struct {
	ids []string
	err error
	got []string
}

func (s *stubReloader) Reload(ids []string) ([]string, error) {
	s.got = ids
	return s.ids, s.err
}

type unavailableStore struct{ state.Store }

func (unavailableStore) GetTrack(context.Context, string, string) (*state.TrackState, error) {
	return nil, errors.New("redis: connection pool timeout")
}

func setupTestServer(t *testing.T, shared bool) (*Server, *state.MemoryStore, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	store := state.NewMemoryStore(clock, 0)
	eng := speed.NewEngine(store, nil, speed.Options{Clock: clock})
	return NewServer(eng, &stubReloader{ids: []string{"cam"}}, shared), store, clock
}

func frameBody(x int) []byte {
	return []byte(fmt.Sprintf(`{
		"event_id": "src-%d",
		"camera_id": "cam",
		"fps": 10,
		"img_ref": "s3://frames/%d.jpg",
		"detections": [{"tracking_id": "t1", "class_name": "truck", "bbox": [%d, 0, 10, 10], "confidence": 0.95}],
		"calibration": {"meters_per_pixel": 0.1},
		"speed_config": {"speed_limit_kmph": 60}
	}`, x, x, x))
}

func post(t *testing.T, h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthcheck(t *testing.T) {
	s, _, _ := setupTestServer(t, false)
	mux := s.ServeMux()

	req := httptest.NewRequest(http.MethodGet, Prefix+"/healthcheck", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "service": "speed-detection", "version": version.Version}, body)

	w = post(t, mux, Prefix+"/healthcheck", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSpeedEndpoint(t *testing.T) {
	s, _, _ := setupTestServer(t, false)
	mux := s.ServeMux()

	w := post(t, mux, Prefix+"/speed", frameBody(0))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Nullable fields are present as JSON null.
	var raw struct {
		Samples []map[string]interface{} `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Samples, 1)
	first := raw.Samples[0]
	assert.Contains(t, first, "speed_kmph")
	assert.Nil(t, first["speed_kmph"])
	assert.Nil(t, first["speed_kmph_raw"])

	w = post(t, mux, Prefix+"/speed", frameBody(20))
	require.Equal(t, http.StatusOK, w.Code)
	var resp SpeedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Samples, 1)
	assert.Equal(t, 1, resp.Samples[0].Samples)
	require.NotNil(t, resp.Samples[0].SpeedKMPHRaw)
	assert.InDelta(t, 72.0, *resp.Samples[0].SpeedKMPHRaw, 1e-9)
	assert.Nil(t, resp.Samples[0].SpeedKMPH)
}

func TestOverspeedingEndpoint(t *testing.T) {
	s, _, clock := setupTestServer(t, false)
	mux := s.ServeMux()

	var last OverspeedingResponse
	for i := 0; i < 4; i++ {
		w := post(t, mux, Prefix+"/overspeeding", frameBody(20*i))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		last = OverspeedingResponse{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
		if i < 3 {
			assert.NotNil(t, last.Violations)
			assert.Empty(t, last.Violations)
		}
		clock.Advance(time.Second)
	}

	require.Len(t, last.Violations, 1)
	ev := last.Violations[0]
	assert.Equal(t, "src-60", *ev.SourceEventID)
	assert.Equal(t, "s3://frames/60.jpg", *ev.Payload.EvidenceImg)
	assert.Equal(t, "truck", *ev.Payload.ClassName)
	assert.InDelta(t, 20.0, ev.Payload.OverSpeedPercentage, 1e-9)
}

func TestTestModeStateIsIsolated(t *testing.T) {
	s, store, _ := setupTestServer(t, false)
	post(t, s.ServeMux(), Prefix+"/speed", frameBody(0))

	st, err := store.GetTrack(context.Background(), "cam", "t1")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = store.GetTrack(context.Background(), TestStatePrefix+"cam", "t1")
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestTestModeSharedState(t *testing.T) {
	s, store, _ := setupTestServer(t, true)
	post(t, s.ServeMux(), Prefix+"/speed", frameBody(0))

	st, err := store.GetTrack(context.Background(), "cam", "t1")
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestValidationErrors(t *testing.T) {
	s, store, _ := setupTestServer(t, false)
	mux := s.ServeMux()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"camera_id":`},
		{"missing camera", `{"detections":[]}`},
		{"missing detections", `{"camera_id":"cam"}`},
		{"negative bbox", `{"camera_id":"cam","detections":[{"tracking_id":"t","bbox":[0,0,-1,1]}]}`},
		{"bad homography", `{"camera_id":"cam","detections":[],"calibration":{"homography":[[1,0],[0,1]]}}`},
		{"zero fps", `{"camera_id":"cam","fps":0,"detections":[]}`},
		{"one bad detection", `{"camera_id":"cam","detections":[{"tracking_id":"ok","bbox":[0,0,1,1]},{"bbox":[0,0,1,1]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/speed", "/overspeeding"} {
				w := post(t, mux, Prefix+path, []byte(tt.body))
				assert.Equal(t, http.StatusBadRequest, w.Code, path)
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}
	assert.Equal(t, 0, store.Len())

	req := httptest.NewRequest(http.MethodGet, Prefix+"/speed", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStoreUnavailable(t *testing.T) {
	eng := speed.NewEngine(unavailableStore{}, nil, speed.Options{})
	s := NewServer(eng, nil, true)

	w := post(t, s.ServeMux(), Prefix+"/overspeeding", frameBody(0))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConfigReload(t *testing.T) {
	s, _, _ := setupTestServer(t, false)
	mux := s.ServeMux()
	reloader := s.reloader.(*stubReloader)

	w := post(t, mux, Prefix+"/config/reload", []byte(`{"camera_ids":["cam"]}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp ConfigReloadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ConfigReloadResponse{Status: "ok", Reloaded: []string{"cam"}}, resp)
	assert.Equal(t, []string{"cam"}, reloader.got)

	w = post(t, mux, Prefix+"/config/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, reloader.got)

	w = post(t, mux, Prefix+"/config/reload", []byte(`[`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	reloader.err = errors.New("read config: permission denied")
	w = post(t, mux, Prefix+"/config/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestConfigReloadWithStaticCalibrations(t *testing.T) {
	mpp := 0.1
	static := calibration.NewStatic(nil, func() (map[string]frame.Calibration, error) {
		return map[string]frame.Calibration{"b": {MetersPerPixel: &mpp}, "a": {MetersPerPixel: &mpp}}, nil
	})
	eng := speed.NewEngine(state.NewMemoryStore(nil, 0), static, speed.Options{})
	s := NewServer(eng, static, false)

	w := post(t, s.ServeMux(), Prefix+"/config/reload", []byte(`{}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp ConfigReloadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"a", "b"}, resp.Reloaded)
}

func TestConfigReloadNotConfigured(t *testing.T) {
	eng := speed.NewEngine(state.NewMemoryStore(nil, 0), nil, speed.Options{})
	s := NewServer(eng, nil, false)
	w := post(t, s.ServeMux(), Prefix+"/config/reload", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func captureLog(t *testing.T) *[]string {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestLoggingMiddlewareNotesFrameOutcome(t *testing.T) {
	lines := captureLog(t)
	s, _, _ := setupTestServer(t, false)
	h := LoggingMiddleware(s.ServeMux())

	w := post(t, h, Prefix+"/speed", frameBody(0))
	require.Equal(t, http.StatusOK, w.Code)
	w = post(t, h, Prefix+"/overspeeding", frameBody(20))
	require.Equal(t, http.StatusOK, w.Code)
	w = post(t, h, Prefix+"/speed", []byte(`{"camera_id": "cam"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, *lines, 3)
	assert.Contains(t, (*lines)[0], "[api] ["+colorBoldGreen+"200"+colorReset+"] POST")
	assert.Contains(t, (*lines)[0], " camera=cam outcome=ok samples=1 ")
	assert.Contains(t, (*lines)[1], " camera=cam outcome=ok violations=0 ")
	assert.NotContains(t, (*lines)[2], "camera=")
}

func TestLoggingMiddlewareNotesTransportFailure(t *testing.T) {
	lines := captureLog(t)
	eng := speed.NewEngine(unavailableStore{}, nil, speed.Options{})
	h := LoggingMiddleware(NewServer(eng, nil, true).ServeMux())

	w := post(t, h, Prefix+"/speed", frameBody(0))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	last := (*lines)[len(*lines)-1]
	assert.Contains(t, last, " camera=cam outcome=transport ")
	assert.NotContains(t, last, "samples=")
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?y=1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"302"+colorReset, statusCodeColor(302))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}

func TestAdminRoutes(t *testing.T) {
	mux := http.NewServeMux()
	AttachAdminRoutes(mux, func() interface{} { return map[string]int{"processed": 3} })

	for _, path := range []string{"/debug/build", "/debug/ingest"} {
		w := testutil.Serve(mux, testutil.NewLoopbackRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, w, http.StatusOK)
	}
}
