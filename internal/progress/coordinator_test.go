package progress

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/Techne/internal/domain"
)

func report(sessionID, groupID string, status domain.ProgressStatus, step, total int) domain.ProgressRecord {
	return domain.ProgressRecord{
		SessionID:   sessionID,
		GroupID:     groupID,
		Status:      status,
		CurrentStep: step,
		TotalSteps:  total,
		Timestamp:   time.Now(),
	}
}

func TestReportProgress_RequiresSessionID(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	err := c.ReportProgress(context.Background(), domain.ProgressRecord{})
	if err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestReportProgress_StoresLatest(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	ctx := context.Background()
	if err := c.ReportProgress(ctx, report("s1", "", domain.ProgressStarted, 1, 4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.ReportProgress(ctx, report("s1", "", domain.ProgressInProgress, 2, 4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, ok := c.Latest("s1")
	if !ok {
		t.Fatal("latest record missing")
	}
	if rec.CurrentStep != 2 || rec.Status != domain.ProgressInProgress {
		t.Errorf("latest record not updated: %+v", rec)
	}
}

func TestReportProgress_FanOut(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	var global, byGroup, bySession int
	c.Subscribe(ObserverFunc(func(domain.ProgressRecord) { global++ }))
	c.SubscribeGroup("g1", ObserverFunc(func(domain.ProgressRecord) { byGroup++ }))
	unsub := c.SubscribeSession("s1", ObserverFunc(func(domain.ProgressRecord) { bySession++ }))

	ctx := context.Background()
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressStarted, 1, 4))
	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressStarted, 1, 4))

	if global != 2 {
		t.Errorf("global observer saw %d reports, want 2", global)
	}
	if byGroup != 2 {
		t.Errorf("group observer saw %d reports, want 2", byGroup)
	}
	if bySession != 1 {
		t.Errorf("session observer saw %d reports, want 1", bySession)
	}

	unsub()
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressInProgress, 2, 4))
	if bySession != 1 {
		t.Error("unsubscribed observer still receives reports")
	}
}

func TestGroupProgress_Overall(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	ctx := context.Background()
	// s1 завершена (4/4), s2 на шаге 2 из 4 → (4+2)/8 = 0.75
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressCompleted, 4, 4))
	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressInProgress, 2, 4))

	gp, err := c.GroupProgress("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gp.Overall != 0.75 {
		t.Errorf("overall = %v, want 0.75", gp.Overall)
	}
	if gp.StatusCounts[domain.ProgressCompleted] != 1 {
		t.Error("completed count should be 1")
	}
	if gp.EstimatedRemaining == nil {
		t.Error("ETA should be defined at non-zero progress")
	}
}

func TestGroupProgress_NoETAAtZero(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	c.ReportProgress(context.Background(), report("s1", "g1", domain.ProgressStarted, 0, 4))

	gp, err := c.GroupProgress("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gp.Overall != 0 {
		t.Errorf("overall = %v, want 0", gp.Overall)
	}
	if gp.EstimatedRemaining != nil {
		t.Error("ETA must be undefined while progress is zero")
	}
}

func TestGroupProgress_UnknownGroup(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	if _, err := c.GroupProgress("missing"); err == nil {
		t.Fatal("expected GROUP_NOT_FOUND")
	}
}

func TestCheckForDeadlock(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2", "s3"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	ctx := context.Background()
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressCompleted, 4, 4))
	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressWaiting, 2, 4))
	c.ReportProgress(ctx, report("s3", "g1", domain.ProgressWaiting, 1, 4))

	deadlocked, err := c.CheckForDeadlock("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deadlocked {
		t.Error("all non-completed sessions waiting should report a deadlock")
	}

	// Одна работающая сессия снимает сигнал
	c.ReportProgress(ctx, report("s3", "g1", domain.ProgressInProgress, 2, 4))
	deadlocked, err = c.CheckForDeadlock("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deadlocked {
		t.Error("an in-progress session should clear the deadlock signal")
	}
}

func TestCheckForDeadlock_UnreportedSession(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	c.ReportProgress(context.Background(), report("s1", "g1", domain.ProgressWaiting, 1, 4))

	deadlocked, err := c.CheckForDeadlock("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deadlocked {
		t.Error("a session that has not reported yet is not waiting")
	}
}

func TestGroupCompletion_FiresOnce(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	var events []GroupCompletion
	c.SubscribeCompletion(CompletionObserverFunc(func(ev GroupCompletion) {
		events = append(events, ev)
	}))

	ctx := context.Background()
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressCompleted, 4, 4))
	if len(events) != 0 {
		t.Fatal("completion fired before all members finished")
	}

	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressFailed, 2, 4))
	if len(events) != 1 {
		t.Fatalf("expected exactly one completion event, got %d", len(events))
	}
	if events[0].Success {
		t.Error("a group with a failed member is not a success")
	}
	if group.Status != domain.GroupStatusConverging {
		t.Errorf("group status = %s, want converging", group.Status)
	}

	// Повторные отчёты не дублируют событие
	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressFailed, 2, 4))
	if len(events) != 1 {
		t.Errorf("completion fired %d times, want 1", len(events))
	}
}

func TestGroupCompletion_AllFailed(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1", "s2"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	ctx := context.Background()
	c.ReportProgress(ctx, report("s1", "g1", domain.ProgressFailed, 1, 4))
	c.ReportProgress(ctx, report("s2", "g1", domain.ProgressFailed, 1, 4))

	if group.Status != domain.GroupStatusFailed {
		t.Errorf("group status = %s, want failed", group.Status)
	}
}

func TestGroupCleanup_AfterRetention(t *testing.T) {
	c := NewCoordinator(Config{Retention: 10 * time.Millisecond})
	defer c.Stop()

	group := domain.NewParallelGroup("g1", "", []string{"s1"}, domain.ConvergenceOptions{})
	c.RegisterGroup(group)

	c.ReportProgress(context.Background(), report("s1", "g1", domain.ProgressCompleted, 4, 4))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.GroupProgress("g1"); err != nil {
			return // группа вычищена
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("group records not cleaned up after retention")
}

func TestAverageStepDuration_Window(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	ctx := context.Background()
	base := time.Now()
	for step := 1; step <= 15; step++ {
		rec := domain.ProgressRecord{
			SessionID:   "s1",
			Status:      domain.ProgressInProgress,
			CurrentStep: step,
			TotalSteps:  20,
			Timestamp:   base.Add(time.Duration(step) * 100 * time.Millisecond),
		}
		if err := c.ReportProgress(ctx, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	avg, ok := c.AverageStepDuration("s1")
	if !ok {
		t.Fatal("window should not be empty after 15 reports")
	}
	if avg != 100*time.Millisecond {
		t.Errorf("average step duration = %v, want 100ms", avg)
	}
}

func TestAverageStepDuration_Empty(t *testing.T) {
	c := NewCoordinator(Config{})
	defer c.Stop()

	if _, ok := c.AverageStepDuration("nobody"); ok {
		t.Error("empty window should report false")
	}
}
