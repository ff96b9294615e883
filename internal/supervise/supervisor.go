// Package supervise elects and heals the single process that owns the
// embedded storage engine. The supervisor probes the well-known loopback
// port, spawns a detached owner when none answers, and the availability
// monitor keeps the owner alive for as long as the persisted desired state
// says it should be running.
package supervise

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/engram-ai/engram/internal/config"
)

const (
	probeTimeout = 2 * time.Second
	spawnSettle  = 1500 * time.Millisecond

	ownerBinary = "engramd"
)

// Supervisor starts the owner process when the loopback port has no healthy
// listener. It never stops anything: teardown is left to the operator and
// the OS, so an owner serving other clients is never killed from under
// them.
type Supervisor struct {
	cfg    config.Config
	log    *slog.Logger
	client *http.Client
	settle time.Duration

	// spawn and locate are swapped out in tests.
	spawn  func(binary string, env []string) error
	locate func() (string, error)
}

// New returns a supervisor for the service described by cfg.
func New(cfg config.Config, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: probeTimeout},
		settle: spawnSettle,
		spawn:  spawnDetached,
	}
	s.locate = s.findBinary
	return s
}

// IsRunning probes the owner's health endpoint. The owner counts as running
// only when it answers 200 with a healthy status body; anything else, from
// connection refusal to a half-up listener, counts as down.
func (s *Supervisor) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

// Start ensures an owner process exists. If a healthy owner already
// answers, Start is a no-op. Otherwise it locates the owner binary, spawns
// it detached from this process, waits for it to settle, and re-probes.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.IsRunning(ctx) {
		s.log.Debug("owner already running", "addr", s.cfg.Addr())
		return nil
	}

	binary, err := s.locate()
	if err != nil {
		return err
	}

	env := append(os.Environ(),
		"ENGRAM_HOST="+s.cfg.Server.Host,
		fmt.Sprintf("ENGRAM_PORT=%d", s.cfg.Server.Port),
		"ENGRAM_DATA_DIR="+s.cfg.Storage.DataDir,
		"ENGRAM_LOG="+s.cfg.Log.Level,
	)
	s.log.Info("spawning owner process", "binary", binary, "addr", s.cfg.Addr())
	if err := s.spawn(binary, env); err != nil {
		return fmt.Errorf("spawning %s: %w", binary, err)
	}

	select {
	case <-time.After(s.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if !s.IsRunning(ctx) {
		return fmt.Errorf("owner process did not become healthy on %s", s.cfg.Addr())
	}
	return nil
}

// Stop is deliberately a no-op. The owner serves every client process on
// the machine; the last client exiting must not take the engine down with
// it. Operators stop the owner explicitly via the CLI.
func (s *Supervisor) Stop() {}

// findBinary locates the owner executable: next to the current executable
// first, then common build output directories, then $PATH.
func (s *Supervisor) findBinary() (string, error) {
	name := ownerBinary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), name))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(wd, "bin", name),
			filepath.Join(wd, "build", name),
		)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("owner binary %q not found next to the executable, in ./bin, ./build, or $PATH", name)
}
