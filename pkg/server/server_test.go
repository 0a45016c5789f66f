package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/cronexpr"
	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
)

func newRegistry(t *testing.T) *jobs.Registry {
	t.Helper()
	r, err := jobs.NewRegistry([]jobs.Definition{
		{Name: "BACKUP/daily", Schedule: "0 3 * * *", Command: jobs.Command{Path: "/bin/true"}},
	}, cronexpr.New(time.UTC), jobs.RegistryOptions{Logger: logger.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Schedule("BACKUP/daily", time.Date(2024, time.March, 16, 3, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRoutes(t *testing.T) {
	s := New(":0", newRegistry(t), time.UTC, logger.Nop())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/jobs", http.StatusOK},
		{http.MethodGet, "/jobs/backup-daily", http.StatusOK},
		{http.MethodGet, "/jobs/unknown", http.StatusNotFound},
		{http.MethodPost, "/jobs", http.StatusMethodNotAllowed},
		{http.MethodOptions, "/jobs", http.StatusNoContent},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}

	s := New(ln.Addr().String(), newRegistry(t), time.UTC, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
