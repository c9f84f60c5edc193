package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"node.town/parley/metrics"
	"node.town/parley/session"
)

type fakeController struct {
	startErr error
	stopErr  error
	state    session.State
	starts   int
	stops    int
}

func (c *fakeController) Start(ctx context.Context) error {
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.state = session.Listening
	return nil
}

func (c *fakeController) Stop() error {
	c.stops++
	c.state = session.Idle
	return c.stopErr
}

func (c *fakeController) State() session.State {
	return c.state
}

type fakeStatus struct {
	ctrl *fakeController
}

func (s fakeStatus) Status() session.Status {
	return session.Status{State: s.ctrl.state, Transcript: "hello"}
}

func newTestHandler(ctrl *fakeController) *Handler {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.UtterancesCompleted.Inc()
	return NewHandler(ctrl, fakeStatus{ctrl}, reg, log.New(io.Discard))
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	h := newTestHandler(&fakeController{})

	rec := do(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body["state"] != "idle" || body["transcript"] != "hello" {
		t.Errorf("Unexpected status %v", body)
	}
}

func TestStartAndStop(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandler(ctrl)

	rec := do(t, h, http.MethodPost, "/session/start")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"listening"`) {
		t.Errorf("Start: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/session/stop")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"idle"`) {
		t.Errorf("Stop: %d %s", rec.Code, rec.Body.String())
	}
	if ctrl.starts != 1 || ctrl.stops != 1 {
		t.Errorf("Expected one start and one stop, got %d and %d", ctrl.starts, ctrl.stops)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"Config", &session.Error{Kind: session.ConfigError, Op: "validate", Err: errors.New("no key")}, http.StatusUnprocessableEntity, "config"},
		{"Connection", &session.Error{Kind: session.ConnectionError, Op: "open stream", Err: errors.New("refused")}, http.StatusBadGateway, "connection"},
		{"Device", &session.Error{Kind: session.DeviceError, Op: "acquire microphone", Err: errors.New("busy")}, http.StatusServiceUnavailable, "device"},
		{"Other", errors.New("mystery"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeController{startErr: tt.err})
			rec := do(t, h, http.MethodPost, "/session/start")
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}

			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Bad JSON: %v", err)
			}
			if body.Kind != tt.kind || body.Error == "" {
				t.Errorf("Unexpected error body %+v", body)
			}
		})
	}
}

func TestStopErrorStillReportsIdle(t *testing.T) {
	h := newTestHandler(&fakeController{state: session.Listening, stopErr: errors.New("close frame lost")})

	rec := do(t, h, http.MethodPost, "/session/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "close frame lost") || !strings.Contains(rec.Body.String(), `"idle"`) {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	h := newTestHandler(&fakeController{})

	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "parley_utterances_completed_total 1") {
		t.Errorf("Expected utterance counter in metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&fakeController{})
	if rec := do(t, h, http.MethodGet, "/session/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
