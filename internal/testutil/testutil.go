// Package testutil provides HTTP helpers shared by handler tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoopbackAddr is a client address the tsweb debug routes accept.
const LoopbackAddr = "127.0.0.1:12345"

// NewLoopbackRequest builds a request that appears to come from localhost,
// so it passes the debug-route access check.
func NewLoopbackRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatusCode fails the test if the recorded status differs from want.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}
