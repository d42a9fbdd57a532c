package api

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/version"
)

// AttachAdminRoutes mounts build information and, when stats is non-nil,
// the ingestion counters under /debug/.
func AttachAdminRoutes(mux *http.ServeMux, stats func() interface{}) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("build", "Build information", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]string{
			"service":    version.Service,
			"version":    version.Version,
			"git_sha":    version.GitSHA,
			"build_time": version.BuildTime,
		})
	})
	if stats != nil {
		debug.HandleFunc("ingest", "Stream ingestion counters", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, stats())
		})
	}
}
