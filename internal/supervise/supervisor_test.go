package supervise

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engram-ai/engram/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

// healthServer runs an httptest server whose health answer is controlled by
// the healthy flag, and returns a config pointing at it.
func healthServer(t *testing.T, healthy *atomic.Bool) config.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if healthy.Load() {
			w.Write([]byte(`{"status":"healthy","service":"engram-service"}`))
		} else {
			w.Write([]byte(`{"status":"starting"}`))
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return config.Config{Server: config.ServerConfig{Host: u.Hostname(), Port: port}}
}

func TestIsRunningRequiresHealthyStatus(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	sup := New(healthServer(t, &healthy), discardLogger())

	if !sup.IsRunning(context.Background()) {
		t.Error("IsRunning() = false for a healthy owner")
	}

	healthy.Store(false)
	if sup.IsRunning(context.Background()) {
		t.Error("IsRunning() = true for an owner that is up but not healthy")
	}
}

func TestIsRunningFalseWhenUnreachable(t *testing.T) {
	sup := New(config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 1}}, discardLogger())
	if sup.IsRunning(context.Background()) {
		t.Error("IsRunning() = true with nothing listening")
	}
}

func TestStartIsNoopWhenOwnerHealthy(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	sup := New(healthServer(t, &healthy), discardLogger())

	spawned := false
	sup.spawn = func(binary string, env []string) error {
		spawned = true
		return nil
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if spawned {
		t.Error("Start() spawned a second owner over a healthy one")
	}
}

func TestStartSpawnsAndReprobes(t *testing.T) {
	var healthy atomic.Bool
	sup := New(healthServer(t, &healthy), discardLogger())
	sup.settle = 10 * time.Millisecond
	sup.locate = func() (string, error) { return "/fake/engramd", nil }

	var gotEnv []string
	sup.spawn = func(binary string, env []string) error {
		// The spawned owner comes up healthy.
		healthy.Store(true)
		gotEnv = env
		return nil
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var hasPort bool
	for _, kv := range gotEnv {
		if strings.HasPrefix(kv, "ENGRAM_PORT=") {
			hasPort = true
		}
	}
	if !hasPort {
		t.Error("spawn env missing ENGRAM_PORT")
	}
}

func TestStartFailsWhenOwnerStaysDown(t *testing.T) {
	var healthy atomic.Bool
	sup := New(healthServer(t, &healthy), discardLogger())
	sup.settle = 10 * time.Millisecond
	sup.locate = func() (string, error) { return "/fake/engramd", nil }
	sup.spawn = func(binary string, env []string) error { return nil }

	if err := sup.Start(context.Background()); err == nil {
		t.Error("Start() succeeded although the owner never became healthy")
	}
}

func TestStartReportsMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	sup := New(config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 1}}, discardLogger())

	err := sup.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Start() error = %v, want a binary-not-found error", err)
	}
}
