package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/speedwatch/internal/speed"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// requestLog records the status and, for frame endpoints, what the engine
// made of the frame.
type requestLog struct {
	http.ResponseWriter
	status int

	cameraID string
	outcome  speed.Outcome
	results  string
}

func (rl *requestLog) WriteHeader(code int) {
	rl.status = code
	rl.ResponseWriter.WriteHeader(code)
}

func (rl *requestLog) Flush() {
	if flusher, ok := rl.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// noteFrame attaches the frame's camera and engine outcome to the request
// log line. It is a no-op when the handler is not behind LoggingMiddleware.
func noteFrame(w http.ResponseWriter, cameraID string, err error, results string) {
	rl, ok := w.(*requestLog)
	if !ok {
		return
	}
	rl.cameraID = cameraID
	rl.outcome = speed.Classify(err)
	rl.results = results
}

func (rl *requestLog) frameSuffix() string {
	if rl.cameraID == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, " camera=%s outcome=%s", rl.cameraID, rl.outcome)
	if rl.outcome == speed.OutcomeOK && rl.results != "" {
		b.WriteString(" " + rl.results)
	}
	return b.String()
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs status, method, URI and duration of every request.
// Frame endpoints add the camera id, the engine outcome and result counts.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rl := &requestLog{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rl, r)
		logf(
			"[%s] %s %s%s%s%s %.3fms",
			statusCodeColor(rl.status), r.Method,
			colorCyan, r.RequestURI, colorReset,
			rl.frameSuffix(),
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
