package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"expensemanager/internal/log"

	"github.com/google/uuid"
)

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	m := NewMiddleware(log.New(log.Config{Output: &buf}), func(*http.Request) string { return "192.0.2.1" })

	var seenID string
	var handlerLogger *log.Logger
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		handlerLogger = log.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/quick-stats", nil))

	if _, err := uuid.Parse(seenID); err != nil {
		t.Fatalf("request id %q is not a UUID", seenID)
	}
	if rr.Header().Get(RequestIDHeader) != seenID {
		t.Errorf("response header = %q, want %q", rr.Header().Get(RequestIDHeader), seenID)
	}
	if handlerLogger.Component() != log.ComponentHTTP {
		t.Errorf("handler logger component = %q", handlerLogger.Component())
	}

	out := buf.String()
	for _, want := range []string{"HTTP request completed", "status_code=418", "client_ip=192.0.2.1", "request_id=" + seenID} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}

	if got := m.GetMetrics(); got.TotalRequests != 1 || got.InFlight != 0 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestRequestIDFrom(t *testing.T) {
	given := uuid.NewString()

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"valid uuid is kept", given, true},
		{"garbage is replaced", "<script>", false},
		{"missing is generated", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(RequestIDHeader, tt.header)
			}
			got := requestIDFrom(r)
			if tt.keep && got != tt.header {
				t.Errorf("requestIDFrom() = %q, want %q", got, tt.header)
			}
			if !tt.keep {
				if got == tt.header {
					t.Error("header should have been replaced")
				}
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("generated id %q is not a UUID", got)
				}
			}
		})
	}
}
