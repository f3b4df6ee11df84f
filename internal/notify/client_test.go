package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"sockproxyd/internal/metrics"
	"sockproxyd/util"
)

func TestClient_Dispatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got == "" {
			t.Error("missing User-Agent header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewClient(util.NewLoggerTo(0, io.Discard), m)
	c.Dispatch(srv.URL + "/data_request?id=action")

	if m.NotifySuccesses() != 1 {
		t.Errorf("NotifySuccesses = %d, want 1", m.NotifySuccesses())
	}
}

func TestClient_Dispatch_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewClient(util.NewLoggerTo(0, io.Discard), m)
	c.Dispatch(srv.URL + "/data_request?id=action")

	if m.NotifyFailures() != 1 {
		t.Errorf("NotifyFailures = %d, want 1", m.NotifyFailures())
	}
}

func TestClient_Dispatch_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewClient(util.NewLoggerTo(0, io.Discard), m)

	for i := 0; i < 6; i++ {
		c.Dispatch(srv.URL + "/data_request?id=action")
	}

	if got := c.breaker.CurrentState().String(); got != "open" {
		t.Errorf("breaker state = %q, want open after repeated failures", got)
	}
}
