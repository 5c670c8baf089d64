package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Techne/internal/domain"
)

func newTestStore(maxSessions int, ttl time.Duration) *Store {
	return New(Config{
		MaxSessions: maxSessions,
		TTL:         ttl,
	})
}

func TestCreate_GeneratedID(t *testing.T) {
	s := newTestStore(10, time.Minute)

	session, err := s.Create("six_hats", "problem", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID == "" {
		t.Fatal("id should be generated")
	}
	if err := domain.ValidateID(session.ID); err != nil {
		t.Errorf("generated id should be valid: %v", err)
	}
	if session.Status != domain.SessionStatusPending {
		t.Errorf("new session should be pending, got %s", session.Status)
	}
}

func TestCreate_ValidIDs(t *testing.T) {
	s := newTestStore(100, time.Minute)

	valid := []string{"a", "A-1", "x.y_z", strings.Repeat("k", 64)}
	for _, id := range valid {
		if _, err := s.Create("po", "p", id); err != nil {
			t.Errorf("id %q should be accepted: %v", id, err)
		}
	}

	invalid := []string{"", "with space", "semi;colon", strings.Repeat("k", 65), "кириллица"}
	for _, id := range invalid {
		if id == "" {
			continue // пустой id — автогенерация
		}
		_, err := s.Create("po", "p", id)
		var engineErr *domain.Error
		if !errors.As(err, &engineErr) || engineErr.Category != domain.CategoryValidation {
			t.Errorf("id %q should fail validation, got %v", id, err)
		}
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	s := newTestStore(10, time.Minute)

	if _, err := s.Create("po", "p", "dup"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := s.Create("po", "p", "dup")
	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "SESSION_EXISTS" {
		t.Errorf("expected SESSION_EXISTS, got %v", err)
	}
}

func TestCreate_CapacityEvictsExpired(t *testing.T) {
	s := newTestStore(2, time.Millisecond)

	_, _ = s.Create("po", "p", "old1")
	_, _ = s.Create("po", "p", "old2")

	// Обе сессии истекают
	time.Sleep(5 * time.Millisecond)

	session, err := s.Create("po", "p", "fresh")
	if err != nil {
		t.Fatalf("create should succeed after eviction: %v", err)
	}
	if session.ID != "fresh" {
		t.Errorf("unexpected id %s", session.ID)
	}
}

func TestCreate_CapacityExhausted(t *testing.T) {
	s := newTestStore(2, time.Hour)

	_, _ = s.Create("po", "p", "a")
	_, _ = s.Create("po", "p", "b")

	_, err := s.Create("po", "p", "c")
	var engineErr *domain.Error
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if engineErr.Code != "SESSION_LIMIT" {
		t.Errorf("expected SESSION_LIMIT, got %s", engineErr.Code)
	}
	if !engineErr.Retryable {
		t.Error("SESSION_LIMIT should be retryable")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(10, time.Minute)

	_, err := s.Get("missing")
	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(10, time.Minute)

	_, _ = s.Create("po", "p", "gone")
	s.Delete("gone")

	if _, err := s.Get("gone"); err == nil {
		t.Error("deleted session should not be found")
	}

	// Удаление отсутствующей — не паника и не ошибка
	s.Delete("never-existed")
}

func TestUpdate_UnderLock(t *testing.T) {
	s := newTestStore(10, time.Minute)
	_, _ = s.Create("po", "p", "s1")

	err := s.Update(context.Background(), "s1", func(session *domain.Session) error {
		session.Insights = append(session.Insights, "insight")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, _ := s.Get("s1")
	if len(session.Insights) != 1 {
		t.Error("update should be applied")
	}
	if s.Locks().IsLocked("s1") {
		t.Error("lock should be released after update")
	}
}

func TestCleanup_EvictsExactlyExpired(t *testing.T) {
	s := newTestStore(10, time.Minute)

	_, _ = s.Create("po", "p", "old")
	_, _ = s.Create("po", "p", "fresh")

	// Смещаем активность "old" в прошлое
	old, _ := s.Get("old")
	old.LastActivityAt = time.Now().Add(-2 * time.Minute)

	evicted := s.Cleanup(time.Now())
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Errorf("expected [old], got %v", evicted)
	}

	// Повторный прогон — ничего не находит
	if again := s.Cleanup(time.Now()); len(again) != 0 {
		t.Errorf("second cleanup should evict nothing, got %v", again)
	}

	if _, err := s.Get("fresh"); err != nil {
		t.Error("fresh session must survive cleanup")
	}
}

func TestTouch_BestEffort(t *testing.T) {
	s := newTestStore(10, time.Minute)
	_, _ = s.Create("po", "p", "s1")

	// Блокировка занята — touch должен молча пропуститься
	release, _ := s.Locks().Acquire(context.Background(), "s1")
	before, _ := s.Get("s1")
	lastActivity := before.LastActivityAt

	s.Touch("s1")

	after, _ := s.Get("s1")
	if !after.LastActivityAt.Equal(lastActivity) {
		t.Error("touch should be skipped while lock is held")
	}
	release()

	s.Touch("s1")
	touched, _ := s.Get("s1")
	if !touched.LastActivityAt.After(lastActivity) {
		t.Error("touch should update activity when lock is free")
	}
}

func TestUnderPressure_SessionCount(t *testing.T) {
	s := New(Config{MaxSessions: 4, TTL: time.Hour, MemoryLimitRatio: 0.5})

	if s.UnderPressure() {
		t.Error("empty store should not be under pressure")
	}

	_, _ = s.Create("po", "p", "a")
	_, _ = s.Create("po", "p", "b")

	if !s.UnderPressure() {
		t.Error("store at 50% of capacity should be under pressure")
	}
}

func TestJanitor_Sweep(t *testing.T) {
	s := newTestStore(10, time.Millisecond)
	_, _ = s.Create("po", "p", "stale")

	j, err := NewJanitor(JanitorConfig{Store: s, Interval: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	j.Sweep()

	if s.Count() != 0 {
		t.Errorf("expected empty store after sweep, got %d", s.Count())
	}
}

func TestJanitor_InvalidCron(t *testing.T) {
	s := newTestStore(10, time.Minute)

	_, err := NewJanitor(JanitorConfig{Store: s, CronExpr: "not a cron"})
	if err == nil {
		t.Error("invalid cron expression should fail")
	}
}

func TestJanitor_KeepAlive(t *testing.T) {
	s := newTestStore(10, 50*time.Millisecond)
	_, _ = s.Create("po", "p", "held")

	j, err := NewJanitor(JanitorConfig{
		Store:     s,
		Interval:  time.Hour,
		KeepAlive: func() []string { return []string{"held"} },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	j.Sweep()

	if _, err := s.Get("held"); err != nil {
		t.Error("keep-alive session must survive sweep")
	}
}
