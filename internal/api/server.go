// Package api serves the speed-detection HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/speed"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/version"
)

// Prefix is the mount point of the service endpoints.
const Prefix = "/api/speed_detection"

// TestStatePrefix namespaces state written by test-mode requests.
const TestStatePrefix = "test:"

var logf = monitoring.Component("api")

// Reloader re-reads camera calibrations. An empty id list reloads all of
// them; the ids actually reloaded are returned.
type Reloader interface {
	Reload(cameraIDs []string) ([]string, error)
}

// Server handles the test-mode and control endpoints.
type Server struct {
	engine   *speed.Engine
	reloader Reloader
}

// NewServer returns a Server running test-mode requests on engine. Unless
// sharedState is set, their state lives under TestStatePrefix in the same
// backend so it never mixes with the production pipeline.
func NewServer(engine *speed.Engine, reloader Reloader, sharedState bool) *Server {
	if !sharedState {
		engine = engine.WithStore(state.NewScoped(engine.Store(), TestStatePrefix))
	}
	return &Server{engine: engine, reloader: reloader}
}

// SpeedResponse is the body of POST /speed.
type SpeedResponse struct {
	Status  string         `json:"status"`
	Samples []speed.Sample `json:"samples"`
}

// OverspeedingResponse is the body of POST /overspeeding.
type OverspeedingResponse struct {
	Status     string        `json:"status"`
	Violations []speed.Event `json:"violations"`
}

// ConfigReloadRequest is the optional body of POST /config/reload.
type ConfigReloadRequest struct {
	CameraIDs []string `json:"camera_ids,omitempty"`
}

// ConfigReloadResponse is the body returned by POST /config/reload.
type ConfigReloadResponse struct {
	Status   string   `json:"status"`
	Reloaded []string `json:"reloaded"`
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(Prefix+"/healthcheck", s.handleHealthcheck)
	mux.HandleFunc(Prefix+"/speed", s.handleSpeed)
	mux.HandleFunc(Prefix+"/overspeeding", s.handleOverspeeding)
	mux.HandleFunc(Prefix+"/config/reload", s.handleConfigReload)
	return mux
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"service": version.Service,
		"version": version.Version,
	})
}

// readFrame decodes the request body, writing the error response itself
// when it fails.
func readFrame(w http.ResponseWriter, r *http.Request) (*frame.Frame, bool) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	f, err := frame.Decode(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	return f, true
}

// writeEngineError maps validation failures to 400 and store failures to 503.
func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, frame.ErrInvalid) {
		httputil.BadRequest(w, err.Error())
		return
	}
	logf("request failed: %v", err)
	httputil.ServiceUnavailable(w, err.Error())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	f, ok := readFrame(w, r)
	if !ok {
		return
	}
	samples, err := s.engine.ComputeSpeeds(r.Context(), f)
	noteFrame(w, f.CameraID, err, fmt.Sprintf("samples=%d", len(samples)))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, SpeedResponse{Status: "ok", Samples: samples})
}

func (s *Server) handleOverspeeding(w http.ResponseWriter, r *http.Request) {
	f, ok := readFrame(w, r)
	if !ok {
		return
	}
	events, err := s.engine.ComputeViolations(r.Context(), f)
	noteFrame(w, f.CameraID, err, fmt.Sprintf("violations=%d", len(events)))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if events == nil {
		events = []speed.Event{}
	}
	httputil.WriteJSONOK(w, OverspeedingResponse{Status: "ok", Violations: events})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.reloader == nil {
		httputil.ServiceUnavailable(w, "calibration reload is not configured")
		return
	}

	var req ConfigReloadRequest
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid reload request: %v", err))
			return
		}
	}

	reloaded, err := s.reloader.Reload(req.CameraIDs)
	if err != nil {
		logf("calibration reload failed: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reloaded == nil {
		reloaded = []string{}
	}
	logf("reloaded calibration for %d cameras", len(reloaded))
	httputil.WriteJSONOK(w, ConfigReloadResponse{Status: "ok", Reloaded: reloaded})
}
