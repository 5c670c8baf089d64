package timeout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Techne/internal/domain"
)

// recordingReporter собирает синтезированные отчёты монитора.
type recordingReporter struct {
	mu      sync.Mutex
	reports []domain.ProgressRecord
}

func (r *recordingReporter) ReportProgress(_ context.Context, rec domain.ProgressRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rec)
	return nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func (r *recordingReporter) last() domain.ProgressRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[len(r.reports)-1]
}

// eventCollector собирает события монитора.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) OnTimeoutEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) ofKind(kind EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestExecutionTimeout_FiresOnce(t *testing.T) {
	reporter := &recordingReporter{}
	collector := &eventCollector{}

	m := NewMonitor(Config{
		ExecutionTimeout: 40 * time.Millisecond,
		Reporter:         reporter,
	})
	m.Subscribe(collector)
	defer m.Stop()

	m.Watch("s1", "g1")

	time.Sleep(10 * time.Millisecond)
	if reporter.count() != 0 {
		t.Fatal("timeout fired before the threshold")
	}

	time.Sleep(120 * time.Millisecond)
	if got := reporter.count(); got != 1 {
		t.Fatalf("expected exactly one synthesized report, got %d", got)
	}

	rec := reporter.last()
	if rec.Status != domain.ProgressFailed {
		t.Errorf("synthesized report status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Error("synthesized report should carry elapsed/threshold in the message")
	}
	if len(collector.ofKind(EventExecutionTimeout)) != 1 {
		t.Error("expected exactly one execution-timeout event")
	}
	if m.Watching("s1") {
		t.Error("session should be unwatched after execution timeout")
	}
}

func TestWaiting_CancelsExecutionTimer(t *testing.T) {
	reporter := &recordingReporter{}
	collector := &eventCollector{}

	m := NewMonitor(Config{
		ExecutionTimeout:  30 * time.Millisecond,
		DependencyTimeout: 50 * time.Millisecond,
		Reporter:          reporter,
	})
	m.Subscribe(collector)
	defer m.Stop()

	m.Watch("s1", "g1")
	m.OnProgress(domain.ProgressRecord{
		SessionID: "s1",
		Status:    domain.ProgressWaiting,
		Timestamp: time.Now(),
	})

	time.Sleep(100 * time.Millisecond)

	if reporter.count() != 0 {
		t.Error("execution timer must not fire while waiting")
	}
	if len(collector.ofKind(EventDependencyTimeout)) != 1 {
		t.Error("expected a dependency-timeout event")
	}
	if !m.Watching("s1") {
		t.Error("dependency timeout is advisory, session stays watched")
	}
}

func TestResume_RearmsRemainingBudget(t *testing.T) {
	reporter := &recordingReporter{}

	m := NewMonitor(Config{
		ExecutionTimeout:  60 * time.Millisecond,
		DependencyTimeout: time.Second,
		Reporter:          reporter,
	})
	defer m.Stop()

	m.Watch("s1", "")
	m.OnProgress(domain.ProgressRecord{
		SessionID: "s1",
		Status:    domain.ProgressWaiting,
		Timestamp: time.Now(),
	})

	// Пауза в waiting не тратит бюджет выполнения
	time.Sleep(80 * time.Millisecond)
	m.OnProgress(domain.ProgressRecord{
		SessionID: "s1",
		Status:    domain.ProgressInProgress,
		Timestamp: time.Now(),
	})

	if reporter.count() != 0 {
		t.Fatal("budget must be frozen while waiting")
	}

	time.Sleep(150 * time.Millisecond)
	if reporter.count() != 1 {
		t.Error("remaining budget should expire after resume")
	}
}

func TestCompleted_StopsMonitoring(t *testing.T) {
	reporter := &recordingReporter{}

	m := NewMonitor(Config{
		ExecutionTimeout: 30 * time.Millisecond,
		Reporter:         reporter,
	})
	defer m.Stop()

	m.Watch("s1", "")
	m.OnProgress(domain.ProgressRecord{
		SessionID: "s1",
		Status:    domain.ProgressCompleted,
		Timestamp: time.Now(),
	})

	time.Sleep(80 * time.Millisecond)
	if reporter.count() != 0 {
		t.Error("completed session must not time out")
	}
	if m.Watching("s1") {
		t.Error("completed session should be unwatched")
	}
}

func TestExtendTimeout_KeepsConsumedTime(t *testing.T) {
	reporter := &recordingReporter{}

	m := NewMonitor(Config{
		ExecutionTimeout: 50 * time.Millisecond,
		Reporter:         reporter,
	})
	defer m.Stop()

	m.Watch("s1", "")
	if err := m.ExtendTimeout("s1", 150*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if reporter.count() != 0 {
		t.Fatal("extended budget expired too early")
	}

	time.Sleep(200 * time.Millisecond)
	if reporter.count() != 1 {
		t.Error("extended budget should still expire")
	}
}

func TestExtendTimeout_UnknownSession(t *testing.T) {
	m := NewMonitor(Config{})
	defer m.Stop()

	if err := m.ExtendTimeout("nobody", time.Second); err == nil {
		t.Fatal("expected SESSION_NOT_MONITORED")
	}
}

func TestSweep_WarningAtEightyPercent(t *testing.T) {
	collector := &eventCollector{}

	m := NewMonitor(Config{
		ExecutionTimeout:   200 * time.Millisecond,
		StalenessThreshold: time.Minute,
		SweepInterval:      10 * time.Millisecond,
	})
	m.Subscribe(collector)
	m.Start(context.Background())
	defer m.Stop()

	m.Watch("s1", "")

	time.Sleep(100 * time.Millisecond)
	if len(collector.ofKind(EventTimeoutWarning)) != 0 {
		t.Fatal("warning fired before 80% of the budget")
	}

	time.Sleep(120 * time.Millisecond)
	if got := len(collector.ofKind(EventTimeoutWarning)); got != 1 {
		t.Errorf("expected exactly one timeout warning, got %d", got)
	}
}

func TestSweep_ProgressStale(t *testing.T) {
	collector := &eventCollector{}

	m := NewMonitor(Config{
		ExecutionTimeout:   time.Minute,
		StalenessThreshold: 30 * time.Millisecond,
		SweepInterval:      10 * time.Millisecond,
	})
	m.Subscribe(collector)
	m.Start(context.Background())
	defer m.Stop()

	m.Watch("s1", "")

	time.Sleep(100 * time.Millisecond)
	if len(collector.ofKind(EventProgressStale)) == 0 {
		t.Error("expected a progress-stale advisory")
	}
	if m.Watching("s1") != true {
		t.Error("staleness is advisory, session stays watched")
	}
}

func TestUnwatch_CancelsTimers(t *testing.T) {
	reporter := &recordingReporter{}

	m := NewMonitor(Config{
		ExecutionTimeout: 30 * time.Millisecond,
		Reporter:         reporter,
	})
	defer m.Stop()

	m.Watch("s1", "")
	m.Unwatch("s1")

	time.Sleep(80 * time.Millisecond)
	if reporter.count() != 0 {
		t.Error("unwatched session must not time out")
	}
}
