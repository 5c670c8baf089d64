package converge

import (
	"errors"
	"testing"

	"github.com/shaiso/Techne/internal/domain"
)

func twoSources() []ParallelResult {
	return []ParallelResult{
		{
			SessionID:  "s1",
			Technique:  "po",
			Insights:   []string{"challenge every assumption", "reverse the constraint"},
			Confidence: 0.6,
		},
		{
			SessionID:  "s2",
			Technique:  "scamper",
			Insights:   []string{"combine existing modules", "eliminate the middle layer"},
			Confidence: 0.9,
		},
	}
}

func TestStep_NoResults(t *testing.T) {
	e := New(Config{})

	_, err := e.Step(Request{Step: 1})

	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "MISSING_PARAMETER" {
		t.Errorf("expected MISSING_PARAMETER, got %v", err)
	}
}

func TestStep_InvalidStep(t *testing.T) {
	e := New(Config{})

	if _, err := e.Step(Request{Step: 0, Results: twoSources()}); err == nil {
		t.Fatal("expected INVALID_STEP")
	}
}

func TestStep1_BucketsByTechnique(t *testing.T) {
	e := New(Config{})

	res, err := e.Step(Request{Step: 1, Results: twoSources()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(res.Buckets))
	}
	if len(res.Buckets["po"]) != 2 || len(res.Buckets["scamper"]) != 2 {
		t.Errorf("buckets wrong: %v", res.Buckets)
	}
	if !res.NextStepNeeded {
		t.Error("step 1 is not the last step")
	}
}

func TestStep2_ThemesAndConflicts(t *testing.T) {
	e := New(Config{ConflictRate: 0.5, TopThemes: 3})

	results := []ParallelResult{
		{Technique: "po", Insights: []string{
			"modular design wins",
			"modular composition beats inheritance",
		}},
		{Technique: "scamper", Insights: []string{
			"modular boundaries reduce coupling",
		}},
	}

	res, err := e.Step(Request{Step: 2, Results: results})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Themes) == 0 || res.Themes[0] != "modular" {
		t.Errorf("themes = %v, want modular first (3 occurrences)", res.Themes)
	}
	// ceil(2 × 0.5) = 1
	if res.EstimatedConflicts != 1 {
		t.Errorf("conflicts = %d, want 1", res.EstimatedConflicts)
	}
}

func TestStep2_IgnoresShortTokens(t *testing.T) {
	e := New(Config{})

	res, err := e.Step(Request{Step: 2, Results: []ParallelResult{
		{Technique: "po", Insights: []string{"a to of it this idea"}},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, theme := range res.Themes {
		if len(theme) <= 4 {
			t.Errorf("theme %q is too short to be significant", theme)
		}
	}
}

func TestStep3_Merge(t *testing.T) {
	e := New(Config{})

	results := []ParallelResult{
		{Technique: "po", Insights: []string{"insight one", "insight two"}},
		{Technique: "scamper", Insights: []string{"insight three", "insight four"}},
	}

	res, err := e.Step(Request{
		Step:    3,
		Results: results,
		Options: domain.ConvergenceOptions{Strategy: domain.StrategyMerge},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Synthesis == nil {
		t.Fatal("step 3 should produce a synthesis")
	}
	// Два источника по два вывода — все четыре уникальных попадают в merge
	if len(res.Synthesis.Insights) != 4 {
		t.Errorf("merge kept %d insights, want 4", len(res.Synthesis.Insights))
	}
}

func TestStep3_MergeDeduplicatesAndCaps(t *testing.T) {
	e := New(Config{})

	results := []ParallelResult{
		{Technique: "po", Insights: []string{"same idea", "Same Idea", "one", "two", "three"}},
		{Technique: "scamper", Insights: []string{"four", "five", "six"}},
	}

	res, err := e.Step(Request{Step: 3, Results: results})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Synthesis.Insights) != 5 {
		t.Errorf("merge kept %d insights, want cap of 5", len(res.Synthesis.Insights))
	}
	if res.Synthesis.Insights[0] != "same idea" {
		t.Errorf("first insight = %q, duplicates must collapse to the first form", res.Synthesis.Insights[0])
	}
}

func TestStep3_SelectTakesTopConfidence(t *testing.T) {
	e := New(Config{})

	res, err := e.Step(Request{
		Step:    3,
		Results: twoSources(),
		Options: domain.ConvergenceOptions{Strategy: domain.StrategySelect},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Synthesis.Sources) != 1 || res.Synthesis.Sources[0] != "scamper" {
		t.Errorf("select should keep the top source, got %v", res.Synthesis.Sources)
	}
	if res.Synthesis.Insights[0] != "combine existing modules" {
		t.Errorf("select kept wrong insights: %v", res.Synthesis.Insights)
	}
}

func TestStep3_Hierarchical(t *testing.T) {
	e := New(Config{})

	res, err := e.Step(Request{
		Step:    3,
		Results: twoSources(),
		Options: domain.ConvergenceOptions{Strategy: domain.StrategyHierarchical},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Synthesis.Primary != "challenge every assumption" {
		t.Errorf("primary = %q, want the first source's leading insight", res.Synthesis.Primary)
	}
	if len(res.Synthesis.Supporting) != 1 {
		t.Errorf("supporting = %v, want one per remaining source", res.Synthesis.Supporting)
	}
}

func TestStep3_UnknownStrategy(t *testing.T) {
	e := New(Config{})

	_, err := e.Step(Request{
		Step:    3,
		Results: twoSources(),
		Options: domain.ConvergenceOptions{Strategy: domain.ConvergenceStrategy("vote")},
	})
	if err == nil {
		t.Fatal("expected UNKNOWN_STRATEGY")
	}
}

func TestStepBeyond3_Deepening(t *testing.T) {
	e := New(Config{})

	res, err := e.Step(Request{Step: 5, Results: twoSources()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Synthesis == nil {
		t.Error("deepening pass should still synthesize")
	}
	if len(res.Notes) == 0 {
		t.Error("deepening pass should note itself")
	}
	if res.NextStepNeeded {
		t.Error("deepening passes are open-ended, no required next step")
	}
}
