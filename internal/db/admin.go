package db

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/security"
	"github.com/banshee-data/speedwatch/internal/speed"
)

// AttachAdminRoutes mounts the SQL browser, a backup download and a
// violations listing under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Speedwatch DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("violations", "Recent speed violations (?camera_id=&limit=)", db.handleViolations)

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath, err := db.backupPath(os.TempDir(), time.Now())
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create backup: %v", err))
			return
		}
		defer os.Remove(backupPath)

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(backupPath)))
		http.ServeFile(w, r, backupPath)
	}))
}

// backupPath names a backup file for this database inside dir.
func (db *DB) backupPath(dir string, at time.Time) (string, error) {
	name := strings.TrimSuffix(filepath.Base(db.path), filepath.Ext(db.path))
	p := filepath.Join(dir, fmt.Sprintf("%s-backup-%d.db", security.SanitizeFilename(name), at.Unix()))
	if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
		return "", fmt.Errorf("invalid backup path: %w", err)
	}
	return p, nil
}

func (db *DB) handleViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := db.Violations(r.Context(), r.URL.Query().Get("camera_id"), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []speed.Event{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"violations": events})
}
