package supervise

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// fakeController simulates the owner process for monitor tests.
type fakeController struct {
	running atomic.Bool
	starts  atomic.Int32
	fail    bool
}

func (f *fakeController) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.fail {
		return context.DeadlineExceeded
	}
	f.running.Store(true)
	return nil
}

func (f *fakeController) IsRunning(ctx context.Context) bool {
	return f.running.Load()
}

func newTestMonitor(t *testing.T, ctrl Controller) *Monitor {
	t.Helper()
	m := NewMonitor(ctrl, t.TempDir(), discardLogger())
	m.poll = 10 * time.Millisecond
	m.backoff = time.Millisecond
	m.settle = time.Millisecond
	return m
}

func TestDesiredStateMissingFile(t *testing.T) {
	m := newTestMonitor(t, &fakeController{})
	if got := m.DesiredState(); got != StateUnknown {
		t.Errorf("DesiredState() = %s, want %s", got, StateUnknown)
	}
}

func TestDesiredStateCorruptFile(t *testing.T) {
	m := newTestMonitor(t, &fakeController{})
	if err := os.WriteFile(filepath.Join(m.dataDir, stateFileName), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := m.DesiredState(); got != StateUnknown {
		t.Errorf("DesiredState() = %s, want %s", got, StateUnknown)
	}
}

func TestDesiredStateRoundTrip(t *testing.T) {
	m := newTestMonitor(t, &fakeController{})

	if err := m.MarkServiceRunning(); err != nil {
		t.Fatalf("MarkServiceRunning() error = %v", err)
	}
	if got := m.DesiredState(); got != StateRunning {
		t.Errorf("DesiredState() = %s, want %s", got, StateRunning)
	}

	if err := m.MarkServiceStopped(); err != nil {
		t.Fatalf("MarkServiceStopped() error = %v", err)
	}
	if got := m.DesiredState(); got != StateStopped {
		t.Errorf("DesiredState() = %s, want %s", got, StateStopped)
	}

	// A second monitor over the same data dir sees the persisted intent.
	reloaded := NewMonitor(&fakeController{}, m.dataDir, discardLogger())
	if got := reloaded.DesiredState(); got != StateStopped {
		t.Errorf("reloaded DesiredState() = %s, want %s", got, StateStopped)
	}
}

func TestEnsureRestartsDownedOwner(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)
	if err := m.MarkServiceRunning(); err != nil {
		t.Fatal(err)
	}

	m.ensure(context.Background())
	if ctrl.starts.Load() != 1 {
		t.Errorf("starts = %d, want 1", ctrl.starts.Load())
	}

	// Already running again, no further starts.
	m.ensure(context.Background())
	if ctrl.starts.Load() != 1 {
		t.Errorf("starts = %d after healthy tick, want still 1", ctrl.starts.Load())
	}
}

func TestEnsureRespectsStoppedState(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)
	if err := m.MarkServiceStopped(); err != nil {
		t.Fatal(err)
	}

	m.ensure(context.Background())
	if ctrl.starts.Load() != 0 {
		t.Errorf("monitor started the owner despite stopped state, starts = %d", ctrl.starts.Load())
	}
}

func TestEnsureUnknownStateStaysHandsOff(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)

	m.ensure(context.Background())
	if ctrl.starts.Load() != 0 {
		t.Errorf("monitor started the owner with unknown state, starts = %d", ctrl.starts.Load())
	}
}

func TestRunRestartsUntilCancelled(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)
	if err := m.MarkServiceRunning(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for ctrl.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("monitor never restarted the owner")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunLogsAndContinuesOnStartFailure(t *testing.T) {
	ctrl := &fakeController{fail: true}
	m := newTestMonitor(t, ctrl)
	if err := m.MarkServiceRunning(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	defer cancel()

	deadline := time.After(time.Second)
	for ctrl.starts.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("monitor gave up after %d failed starts, want retries", ctrl.starts.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPowerCycleRestartsOwnerThatDiedAsleep(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.running.Store(true)
	m := newTestMonitor(t, ctrl)

	m.HandlePowerEvent(context.Background(), PowerSuspend)

	// The owner dies while the machine sleeps.
	ctrl.running.Store(false)

	m.HandlePowerEvent(context.Background(), PowerResume)
	if ctrl.starts.Load() != 1 {
		t.Errorf("starts = %d after resume, want 1", ctrl.starts.Load())
	}
}

func TestSuspendPersistsOwnerUpAsRunning(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.running.Store(true)
	m := newTestMonitor(t, ctrl)

	m.HandlePowerEvent(context.Background(), PowerSuspend)

	if got := m.DesiredState(); got != StateRunning {
		t.Errorf("DesiredState() after suspend = %s, want %s", got, StateRunning)
	}
}

func TestSuspendPersistsOwnerDownAsStopped(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)

	// The user stopped the owner by hand before the machine slept; the
	// earlier running intent must not survive the suspend snapshot.
	if err := m.MarkServiceRunning(); err != nil {
		t.Fatal(err)
	}

	m.HandlePowerEvent(context.Background(), PowerSuspend)

	if got := m.DesiredState(); got != StateStopped {
		t.Errorf("DesiredState() after suspend = %s, want %s", got, StateStopped)
	}

	// A monitor started after wake over the same data dir sees the
	// snapshot and leaves the owner alone.
	fresh := NewMonitor(ctrl, m.dataDir, discardLogger())
	fresh.backoff = time.Millisecond
	fresh.ensure(context.Background())
	if ctrl.starts.Load() != 0 {
		t.Errorf("starts = %d, want 0 for an owner that was down at suspend", ctrl.starts.Load())
	}
}

func TestResumeIgnoredWhenNothingToRestore(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestMonitor(t, ctrl)

	m.HandlePowerEvent(context.Background(), PowerSuspend)
	m.HandlePowerEvent(context.Background(), PowerResume)
	if ctrl.starts.Load() != 0 {
		t.Errorf("starts = %d, want 0 when the owner was already down at suspend", ctrl.starts.Load())
	}
}
