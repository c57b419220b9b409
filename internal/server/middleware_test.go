package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/54b3r/bookqa-go/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxLogger *slog.Logger
	h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/books/abc/query", nil)
	req.Header.Set(requestIDHeader, inbound)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != inbound {
		t.Errorf("want inbound id %q echoed, got %q", inbound, got)
	}
	if ctxLogger == nil || ctxLogger == base {
		t.Error("handler did not receive a request-scoped logger")
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%q)", err, buf.String())
	}
	if line["level"] != "ERROR" {
		t.Errorf("5xx should log at ERROR, got %v", line["level"])
	}
	if line["request_id"] != inbound || line["status"] != float64(http.StatusBadGateway) {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	for _, hdr := range []string{"", "not-a-uuid", "'; DROP TABLE books"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set(requestIDHeader, hdr)
		}
		got := requestID(req)
		if got == hdr {
			t.Errorf("untrusted id %q was reused", hdr)
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("generated id %q is not a UUID", got)
		}
	}
}
