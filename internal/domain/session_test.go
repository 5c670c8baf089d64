package domain

import (
	"testing"
	"time"
)

func TestSession_CloneIsIndependent(t *testing.T) {
	s := NewSession("s-1", "po", "problem")
	s.RecordStep(StepRecord{Technique: "po", Step: 1, TotalSteps: 4, Output: "first"})
	s.Insights = append(s.Insights, "insight")
	s.DependsOn = append(s.DependsOn, "s-0")
	s.ParallelGroupID = "g-1"
	s.Parallel = &ParallelMeta{
		PlanID:     "p-1",
		Techniques: []string{"po", "six_hats"},
	}

	clone := s.Clone()

	s.RecordStep(StepRecord{Technique: "po", Step: 2, TotalSteps: 4, Output: "second"})
	s.Insights = append(s.Insights, "another")
	s.DependsOn[0] = "changed"
	s.Parallel.Techniques[0] = "changed"
	s.Parallel.CanExecuteIndependently = true
	if err := s.Transition(SessionStatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if clone.Status != SessionStatusPending {
		t.Errorf("clone status = %s, want pending", clone.Status)
	}
	if len(clone.History) != 1 {
		t.Errorf("clone history length = %d, want 1", len(clone.History))
	}
	if len(clone.Insights) != 1 || clone.Insights[0] != "insight" {
		t.Errorf("clone insights = %v, want [insight]", clone.Insights)
	}
	if clone.DependsOn[0] != "s-0" {
		t.Errorf("clone depends_on = %v, want [s-0]", clone.DependsOn)
	}
	if clone.Parallel == s.Parallel {
		t.Error("clone should not share parallel metadata")
	}
	if clone.Parallel.Techniques[0] != "po" {
		t.Errorf("clone techniques = %v, want [po six_hats]", clone.Parallel.Techniques)
	}
	if clone.Parallel.CanExecuteIndependently {
		t.Error("clone should keep the captured flag value")
	}
}

func TestSession_CloneCopiesEndedAt(t *testing.T) {
	s := NewSession("s-1", "po", "problem")
	if err := s.Transition(SessionStatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Transition(SessionStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clone := s.Clone()
	if clone.EndedAt == s.EndedAt {
		t.Error("clone should not share the ended_at pointer")
	}

	shifted := s.EndedAt.Add(time.Hour)
	*s.EndedAt = shifted
	if clone.EndedAt.Equal(shifted) {
		t.Error("clone ended_at should keep the captured value")
	}
}
