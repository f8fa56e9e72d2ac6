package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRouter(t *testing.T) {
	Observe("add", "ok")

	tests := []struct {
		name     string
		db       pinger
		path     string
		wantCode int
		wantBody string
	}{
		{"Healthy", pinger{}, "/healthz", http.StatusOK, "ok"},
		{"Unhealthy", pinger{errors.New("connection refused")}, "/healthz", http.StatusServiceUnavailable, "connection refused"},
		{"Metrics", pinger{}, "/metrics", http.StatusOK, `helpqueue_operations_total{op="add",result="ok"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Router(test.db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, test.path, nil))
			if rec.Code != test.wantCode {
				t.Errorf("GET %s = %d, want %d", test.path, rec.Code, test.wantCode)
			}
			if !strings.Contains(rec.Body.String(), test.wantBody) {
				t.Errorf("GET %s body does not contain %q", test.path, test.wantBody)
			}
		})
	}
}
