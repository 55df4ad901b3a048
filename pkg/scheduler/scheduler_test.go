package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name     string
		spec     string
		timezone string
		wantErr  bool
	}{
		{"valid", "30 5 * * *", "Asia/Tokyo", false},
		{"local timezone", "0 * * * *", "", false},
		{"six fields", "0 30 5 * * *", "", true},
		{"bad timezone", "30 5 * * *", "Mars/Olympus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec, tt.timezone, 0, noop)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q, %q) error = %v, wantErr %v", tt.spec, tt.timezone, err, tt.wantErr)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	s, err := New("30 5 * * *", "Asia/Tokyo", 0, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	now := time.Date(2024, 4, 1, 6, 0, 0, 0, tokyo)
	want := time.Date(2024, 4, 2, 5, 30, 0, 0, tokyo)
	if got := s.NextRun(now); !got.Equal(want) {
		t.Errorf("NextRun = %s, want %s", got, want)
	}
}

func TestRun_RunNowAndStop(t *testing.T) {
	calls := make(chan struct{}, 4)
	s, err := New("0 0 1 1 *", "UTC", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected the job context to carry the timeout")
		}
		calls <- struct{}{}
		return errors.New("source unavailable")
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, true) }()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	st := s.Status()
	if st.Runs != 1 || st.LastErr != "source unavailable" || st.Running {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandler_Health(t *testing.T) {
	s, _ := New("0 * * * *", "UTC", 0, func(context.Context) error { return nil })
	reg := prometheus.NewRegistry()
	h := NewHandler(reg, s)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health before any run = %d, want 200", rec.Code)
	}

	s.job = func(context.Context) error { return errors.New("boom") }
	s.runOnce(context.Background())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("health after failure = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics = %d, want 200", rec.Code)
	}
}
