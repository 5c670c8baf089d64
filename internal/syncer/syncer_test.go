package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Techne/internal/domain"
)

// appliedCollector собирает события применения обновлений.
type appliedCollector struct {
	mu     sync.Mutex
	events []AppliedUpdate
}

func (c *appliedCollector) OnContextApplied(ev AppliedUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *appliedCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *appliedCollector) last() AppliedUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func update(sessionID string, insights []string, themes map[string]float64) domain.ContextUpdate {
	return domain.ContextUpdate{
		SessionID:    sessionID,
		Insights:     insights,
		ThemeWeights: themes,
	}
}

func TestInitSharedContext_Duplicate(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	if err := s.InitSharedContext("g1", StrategyImmediate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.InitSharedContext("g1", StrategyImmediate); err == nil {
		t.Fatal("expected CONTEXT_EXISTS")
	}
}

func TestInitSharedContext_UnknownStrategy(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	if err := s.InitSharedContext("g1", Strategy("eager")); err == nil {
		t.Fatal("expected UNKNOWN_STRATEGY")
	}
}

func TestUpdate_Immediate(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	collector := &appliedCollector{}
	s.Subscribe(collector)
	s.InitSharedContext("g1", StrategyImmediate)

	err := s.UpdateSharedContext(context.Background(), "g1",
		update("s1", []string{"idea"}, map[string]float64{"speed": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if collector.count() != 1 {
		t.Fatalf("immediate strategy should emit at once, got %d events", collector.count())
	}

	sc, err := s.Context("g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sc.Insights) != 1 || sc.UpdateCount != 1 {
		t.Errorf("context not applied: %+v", sc)
	}
}

func TestUpdate_UnknownGroup(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	err := s.UpdateSharedContext(context.Background(), "missing",
		update("s1", []string{"idea"}, nil))
	if err == nil {
		t.Fatal("expected CONTEXT_NOT_FOUND")
	}
}

func TestUpdate_BatchedFlushOnSize(t *testing.T) {
	s := New(Config{BatchWindow: time.Hour, BatchMaxSize: 3})
	defer s.Stop()

	collector := &appliedCollector{}
	s.Subscribe(collector)
	s.InitSharedContext("g1", StrategyBatched)

	ctx := context.Background()
	s.UpdateSharedContext(ctx, "g1", update("s1", []string{"a"}, map[string]float64{"x": 1}))
	s.UpdateSharedContext(ctx, "g1", update("s2", []string{"b"}, map[string]float64{"x": 2}))

	if collector.count() != 0 {
		t.Fatal("batch flushed before the size cap")
	}

	s.UpdateSharedContext(ctx, "g1", update("s3", []string{"c"}, nil))

	if collector.count() != 1 {
		t.Fatalf("size cap should trigger exactly one flush, got %d", collector.count())
	}

	ev := collector.last()
	if ev.Merged != 3 {
		t.Errorf("flush merged %d updates, want 3", ev.Merged)
	}
	if ev.UpdateCount != 1 {
		t.Errorf("merged batch should apply as one update, count = %d", ev.UpdateCount)
	}

	sc, _ := s.Context("g1")
	if len(sc.Insights) != 3 {
		t.Errorf("insights = %v, want all three", sc.Insights)
	}
	if sc.ThemeWeights["x"] != 3 {
		t.Errorf("theme weight = %v, want 3 (additive)", sc.ThemeWeights["x"])
	}
}

func TestUpdate_BatchedFlushOnDebounce(t *testing.T) {
	s := New(Config{BatchWindow: 20 * time.Millisecond, BatchMaxSize: 100})
	defer s.Stop()

	collector := &appliedCollector{}
	s.Subscribe(collector)
	s.InitSharedContext("g1", StrategyBatched)

	s.UpdateSharedContext(context.Background(), "g1",
		update("s1", []string{"a"}, nil))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if collector.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("debounce timer did not flush the batch")
}

func TestUpdate_CheckpointOnlyExplicitFlush(t *testing.T) {
	s := New(Config{BatchWindow: 10 * time.Millisecond})
	defer s.Stop()

	collector := &appliedCollector{}
	s.Subscribe(collector)
	s.InitSharedContext("g1", StrategyCheckpoint)

	ctx := context.Background()
	s.UpdateSharedContext(ctx, "g1", update("s1", []string{"a"}, nil))
	s.UpdateSharedContext(ctx, "g1", update("s2", []string{"b"}, nil))

	time.Sleep(50 * time.Millisecond)
	if collector.count() != 0 {
		t.Fatal("checkpoint strategy must not flush on its own")
	}

	if err := s.Checkpoint(ctx, "g1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collector.count() != 1 {
		t.Fatalf("checkpoint should flush exactly once, got %d", collector.count())
	}

	sc, _ := s.Context("g1")
	if len(sc.Insights) != 2 || sc.UpdateCount != 1 {
		t.Errorf("checkpoint flush wrong: %+v", sc)
	}
}

func TestThemeWeights_Additive(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	s.InitSharedContext("g1", StrategyImmediate)

	ctx := context.Background()
	s.UpdateSharedContext(ctx, "g1", update("s1", nil, map[string]float64{"novelty": 2}))
	s.UpdateSharedContext(ctx, "g1", update("s2", nil, map[string]float64{"novelty": 3}))

	sc, _ := s.Context("g1")
	if sc.ThemeWeights["novelty"] != 5 {
		t.Errorf("theme weight = %v, want 5 (never overwritten)", sc.ThemeWeights["novelty"])
	}
}

func TestContextSummary_TopN(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	s.InitSharedContext("g1", StrategyImmediate)
	s.UpdateSharedContext(context.Background(), "g1", update("s1", nil, map[string]float64{
		"alpha": 1, "beta": 5, "gamma": 3, "delta": 5,
	}))

	themes, err := s.ContextSummary("g1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(themes) != 3 {
		t.Fatalf("got %d themes, want 3", len(themes))
	}
	// beta и delta делят вес 5; при равенстве порядок по имени
	if themes[0].Name != "beta" || themes[1].Name != "delta" || themes[2].Name != "gamma" {
		t.Errorf("summary order wrong: %+v", themes)
	}
}

func TestMergeContexts(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	s.InitSharedContext("g1", StrategyImmediate)
	s.InitSharedContext("g2", StrategyImmediate)

	ctx := context.Background()
	s.UpdateSharedContext(ctx, "g1", domain.ContextUpdate{
		SessionID:    "s1",
		Insights:     []string{"one"},
		ThemeWeights: map[string]float64{"shared": 1},
		Metrics:      map[string]float64{"score": 0.3},
	})
	s.UpdateSharedContext(ctx, "g2", domain.ContextUpdate{
		SessionID:    "s2",
		Insights:     []string{"two"},
		ThemeWeights: map[string]float64{"shared": 2},
		Metrics:      map[string]float64{"score": 0.9},
	})

	merged, err := s.MergeContexts([]string{"g1", "g2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(merged.Insights) != 2 {
		t.Errorf("insights = %v, want both", merged.Insights)
	}
	if merged.ThemeWeights["shared"] != 3 {
		t.Errorf("merged theme weight = %v, want 3", merged.ThemeWeights["shared"])
	}
	// Метрики сливаются в порядке аргументов: g2 побеждает
	if merged.Metrics["score"] != 0.9 {
		t.Errorf("merged metric = %v, want 0.9", merged.Metrics["score"])
	}
}

func TestMergeContexts_UnknownGroup(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	s.InitSharedContext("g1", StrategyImmediate)
	if _, err := s.MergeContexts([]string{"g1", "missing"}); err == nil {
		t.Fatal("expected CONTEXT_NOT_FOUND")
	}
}

func TestDropContext_CancelsDebounce(t *testing.T) {
	s := New(Config{BatchWindow: 20 * time.Millisecond, BatchMaxSize: 100})
	defer s.Stop()

	collector := &appliedCollector{}
	s.Subscribe(collector)
	s.InitSharedContext("g1", StrategyBatched)

	s.UpdateSharedContext(context.Background(), "g1", update("s1", []string{"a"}, nil))
	s.DropContext("g1")

	time.Sleep(80 * time.Millisecond)
	if collector.count() != 0 {
		t.Error("dropped context must not flush")
	}
}
