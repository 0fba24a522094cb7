package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "dev"}}
}

func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	HealthLive(testConfig())(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if got := w.Header().Get("X-Evrent-Env"); got != "dev" {
		t.Fatalf("unexpected env header %q", got)
	}
}

func TestHealthReady(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	tests := []struct {
		name   string
		deps   map[string]Pinger
		status int
	}{
		{name: "all up", deps: map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}, status: http.StatusOK},
		{name: "redis down", deps: map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}}, status: http.StatusServiceUnavailable},
		{name: "nil dependency skipped", deps: map[string]Pinger{"db": stubPinger{}, "redis": nil}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthReady(testConfig(), logg, tt.deps)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if w.Code != tt.status {
				t.Fatalf("expected %d got %d", tt.status, w.Code)
			}
		})
	}
}
