package supervise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DesiredState is the operator's intent for the owner process, persisted
// across restarts of every client.
type DesiredState string

const (
	StateRunning DesiredState = "running"
	StateStopped DesiredState = "stopped"
	StateUnknown DesiredState = "unknown"
)

// PowerEvent signals a host suspend or resume to the monitor.
type PowerEvent int

const (
	PowerSuspend PowerEvent = iota
	PowerResume
)

const (
	pollInterval   = 10 * time.Second
	restartBackoff = 2 * time.Second
	resumeSettle   = 500 * time.Millisecond

	stateFileName = "desired_state.json"
)

// Controller is the slice of the supervisor the monitor drives.
type Controller interface {
	Start(ctx context.Context) error
	IsRunning(ctx context.Context) bool
}

// Monitor keeps the owner process matching the persisted desired state. It
// polls, restarts after crashes, and handles suspend/resume cycles where
// the owner may have died while the machine slept.
type Monitor struct {
	ctrl    Controller
	dataDir string
	log     *slog.Logger

	poll    time.Duration
	backoff time.Duration
	settle  time.Duration

	mu             sync.Mutex
	runningAtSleep bool
}

// NewMonitor returns a monitor persisting its desired state under dataDir.
func NewMonitor(ctrl Controller, dataDir string, log *slog.Logger) *Monitor {
	return &Monitor{
		ctrl:    ctrl,
		dataDir: dataDir,
		log:     log,
		poll:    pollInterval,
		backoff: restartBackoff,
		settle:  resumeSettle,
	}
}

type persistedState struct {
	State     DesiredState `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

func (m *Monitor) statePath() string {
	return filepath.Join(m.dataDir, stateFileName)
}

// DesiredState reads the persisted intent. A missing or corrupt file yields
// Unknown so a damaged state file never forces a restart loop.
func (m *Monitor) DesiredState() DesiredState {
	data, err := os.ReadFile(m.statePath())
	if errors.Is(err, fs.ErrNotExist) {
		return StateUnknown
	}
	if err != nil {
		return StateUnknown
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return StateUnknown
	}
	switch st.State {
	case StateRunning, StateStopped:
		return st.State
	default:
		return StateUnknown
	}
}

// MarkServiceRunning records that the owner should be kept alive.
func (m *Monitor) MarkServiceRunning() error {
	return m.writeState(StateRunning)
}

// MarkServiceStopped records that the owner was stopped on purpose; the
// monitor will not resurrect it.
func (m *Monitor) MarkServiceStopped() error {
	return m.writeState(StateStopped)
}

func (m *Monitor) writeState(s DesiredState) error {
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.Marshal(persistedState{State: s, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding desired state: %w", err)
	}

	tmp := m.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing desired state: %w", err)
	}
	if err := os.Rename(tmp, m.statePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing desired state: %w", err)
	}
	return nil
}

// Run polls until ctx is cancelled, restarting the owner whenever the
// desired state says running and the health probe says down. A wall-clock
// jump between ticks means the machine slept through polls, so the tick is
// treated as a resume.
func (m *Monitor) Run(ctx context.Context) {
	m.ensure(ctx)

	lastTick := time.Now()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastTick) > 2*m.poll {
				m.log.Info("wall clock jumped between polls, treating as resume",
					"gap", now.Sub(lastTick))
				m.HandlePowerEvent(ctx, PowerResume)
			}
			lastTick = now
			m.ensure(ctx)
		}
	}
}

// HandlePowerEvent persists owner reachability as the desired state at
// suspend and races to bring the owner back shortly after resume.
func (m *Monitor) HandlePowerEvent(ctx context.Context, ev PowerEvent) {
	switch ev {
	case PowerSuspend:
		running := m.ctrl.IsRunning(ctx)
		m.mu.Lock()
		m.runningAtSleep = running
		m.mu.Unlock()
		// The snapshot becomes the persisted intent, so a monitor started
		// after wake recovers an owner that was up at suspend and leaves a
		// deliberately stopped one alone.
		state := StateStopped
		if running {
			state = StateRunning
		}
		if err := m.writeState(state); err != nil {
			m.log.Error("persisting desired state at suspend failed", "error", err)
		}
		m.log.Debug("suspend detected", "owner_running", running)

	case PowerResume:
		m.mu.Lock()
		wasRunning := m.runningAtSleep
		m.mu.Unlock()
		if !wasRunning && m.DesiredState() != StateRunning {
			return
		}
		// Give the network stack a moment before probing.
		select {
		case <-time.After(m.settle):
		case <-ctx.Done():
			return
		}
		if m.ctrl.IsRunning(ctx) {
			return
		}
		m.log.Info("owner down after resume, restarting")
		if err := m.ctrl.Start(ctx); err != nil {
			m.log.Error("restarting owner after resume failed", "error", err)
		}
	}
}

// ensure restarts the owner when it should be up but is not. Start failures
// are logged and retried on the next tick rather than propagated; the
// monitor's job is to keep trying.
func (m *Monitor) ensure(ctx context.Context) {
	if m.DesiredState() != StateRunning {
		return
	}
	if m.ctrl.IsRunning(ctx) {
		return
	}

	m.log.Info("owner down but desired running, restarting", "backoff", m.backoff)
	select {
	case <-time.After(m.backoff):
	case <-ctx.Done():
		return
	}
	if err := m.ctrl.Start(ctx); err != nil {
		m.log.Error("restarting owner failed", "error", err)
	}
}
