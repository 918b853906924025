package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"go.uber.org/goleak"

	syncpkg "github.com/kimhsiao/fitsync/internal/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine records what the scheduler asked for.
type fakeEngine struct {
	mu       sync.Mutex
	triggers []syncpkg.TriggerReason
	online   []bool
	resets   int
}

func (f *fakeEngine) Trigger(reason syncpkg.TriggerReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, reason)
}

func (f *fakeEngine) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	return &syncpkg.SyncResult{}, nil
}

func (f *fakeEngine) WaitIdle(ctx context.Context) error { return nil }

func (f *fakeEngine) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeEngine) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeEngine) reasons() []syncpkg.TriggerReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncpkg.TriggerReason(nil), f.triggers...)
}

type fakeQueue struct {
	mu     sync.Mutex
	kicks  int
	online []bool
}

func (f *fakeQueue) Kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks++
}

func (f *fakeQueue) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeQueue) kickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicks
}

const interval = 10 * time.Second

func startScheduler(t *testing.T) (*Scheduler, *fakeEngine, *fakeQueue, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Unix(1700000000, 0))
	engine, q := &fakeEngine{}, &fakeQueue{}
	s := New(engine, q, Config{SyncInterval: interval, QueueInterval: interval, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, engine, q, clk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SyncInterval != 15*time.Minute || cfg.QueueInterval != time.Minute || cfg.Clock == nil {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestRun_StartupAndPeriodic(t *testing.T) {
	s, engine, q, clk := startScheduler(t)

	waitFor(t, "startup trigger", func() bool { return len(engine.reasons()) == 1 })
	if engine.reasons()[0] != syncpkg.TriggerStartup {
		t.Errorf("first trigger = %q", engine.reasons()[0])
	}

	if err := clk.WaitAdvance(interval, time.Second, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "periodic trigger", func() bool { return len(engine.reasons()) == 2 })
	if got := engine.reasons()[1]; got != syncpkg.TriggerPeriodic {
		t.Errorf("second trigger = %q", got)
	}
	waitFor(t, "queue kicks", func() bool { return q.kickCount() == 2 })

	st := s.GetStatus()
	if !st.IsRunning || st.LastReason != syncpkg.TriggerPeriodic || st.LastTrigger == nil {
		t.Errorf("GetStatus() = %+v", st)
	}
}

func TestRun_NoPeriodicSyncInBackground(t *testing.T) {
	s, engine, q, clk := startScheduler(t)
	waitFor(t, "startup trigger", func() bool { return len(engine.reasons()) == 1 })

	s.SetForeground(false)
	if err := clk.WaitAdvance(interval, time.Second, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "queue kick", func() bool { return q.kickCount() == 2 })
	// Both timers were re-armed, so the periodic tick has been handled.
	if err := clk.WaitAdvance(0, time.Second, 2); err != nil {
		t.Fatal(err)
	}
	if n := len(engine.reasons()); n != 1 {
		t.Errorf("triggers in background = %v", engine.reasons())
	}

	s.SetForeground(true)
	reasons := engine.reasons()
	if len(reasons) != 2 || reasons[1] != syncpkg.TriggerPeriodic {
		t.Errorf("foreground return triggers = %v", reasons)
	}
}

func TestSetForeground_BackgroundCancelsSync(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, Config{})

	s.SetForeground(false)
	if n := engine.resetCount(); n != 1 {
		t.Errorf("resets after backgrounding = %d, want 1", n)
	}
	// Already in the background: nothing more to cancel.
	s.SetForeground(false)
	if n := engine.resetCount(); n != 1 {
		t.Errorf("resets after repeated background = %d, want 1", n)
	}
	s.SetForeground(true)
	if n := engine.resetCount(); n != 1 {
		t.Errorf("resets after foreground = %d, want 1", n)
	}

	s.Reset()
	if n := engine.resetCount(); n != 2 {
		t.Errorf("resets after Reset() = %d, want 2", n)
	}
}

func TestSetOnlineStatus_FansOut(t *testing.T) {
	engine, q := &fakeEngine{}, &fakeQueue{}
	s := New(engine, q, Config{})

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)

	if len(engine.online) != 2 || engine.online[0] || !engine.online[1] {
		t.Errorf("engine online = %v", engine.online)
	}
	if len(q.online) != 2 || q.online[0] || !q.online[1] {
		t.Errorf("queue online = %v", q.online)
	}
	if st := s.GetStatus(); !st.IsOnline || st.LastReason != syncpkg.TriggerConnectivity {
		t.Errorf("GetStatus() = %+v", st)
	}
	// The engine starts its own reconnect cycle.
	if len(engine.reasons()) != 0 {
		t.Errorf("scheduler triggered directly: %v", engine.reasons())
	}
}

func TestRefresh(t *testing.T) {
	engine, q := &fakeEngine{}, &fakeQueue{}
	s := New(engine, q, Config{})
	s.Refresh()

	if r := engine.reasons(); len(r) != 1 || r[0] != syncpkg.TriggerRefresh {
		t.Errorf("triggers = %v", r)
	}
	if q.kickCount() != 1 {
		t.Errorf("kicks = %d", q.kickCount())
	}
}

func TestRun_Twice(t *testing.T) {
	s, engine, _, _ := startScheduler(t)
	waitFor(t, "running", func() bool { return s.GetStatus().IsRunning && len(engine.reasons()) == 1 })
	if err := s.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}
