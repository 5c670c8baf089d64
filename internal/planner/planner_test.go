package planner

import (
	"errors"
	"testing"

	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/registry"
)

func newTestPlanner(maxParallel int) *Planner {
	return New(Config{
		Registry:    registry.New(),
		MaxParallel: maxParallel,
	})
}

func TestGenerate_ParallelNeedsTwoTechniques(t *testing.T) {
	p := newTestPlanner(5)

	_, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po"},
		Mode:       domain.ModeParallel,
	})

	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "TOO_FEW_TECHNIQUES" {
		t.Errorf("expected TOO_FEW_TECHNIQUES, got %v", err)
	}
}

func TestGenerate_UnknownTechnique(t *testing.T) {
	p := newTestPlanner(5)

	_, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po", "made_up"},
		Mode:       domain.ModeParallel,
	})

	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "UNKNOWN_TECHNIQUE" {
		t.Errorf("expected UNKNOWN_TECHNIQUE, got %v", err)
	}
}

func TestGenerate_MaxParallelismCeiling(t *testing.T) {
	p := newTestPlanner(2)

	_, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po", "scamper", "random_entry"},
		Mode:       domain.ModeParallel,
	})

	var engineErr *domain.Error
	if !errors.As(err, &engineErr) || engineErr.Code != "MAX_PARALLELISM_EXCEEDED" {
		t.Errorf("expected MAX_PARALLELISM_EXCEEDED, got %v", err)
	}
}

func TestGenerate_DuplicateWarning(t *testing.T) {
	p := newTestPlanner(5)

	result, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po", "po", "scamper"},
		Mode:       domain.ModeParallel,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Code == "DUPLICATE_TECHNIQUE" {
			found = true
		}
	}
	if !found {
		t.Error("expected DUPLICATE_TECHNIQUE warning")
	}
}

func TestGenerate_SoftDependencyWarning(t *testing.T) {
	p := newTestPlanner(5)

	// po → random_entry — мягкая зависимость из каталога
	result, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"random_entry", "po"},
		Mode:       domain.ModeParallel,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Code == "DEPENDENT_TECHNIQUES" {
			found = true
			if w.Recommendation == "" {
				t.Error("dependent warning should carry an ordering recommendation")
			}
		}
	}
	if !found {
		t.Error("expected DEPENDENT_TECHNIQUES warning")
	}
}

func TestCluster_NeverGroupsHardDependent(t *testing.T) {
	p := newTestPlanner(5)

	// triz → concept_extraction — жёсткая зависимость
	groups := p.cluster([]string{"triz", "concept_extraction", "po"})

	for _, group := range groups {
		hasTriz, hasCE := false, false
		for _, name := range group {
			if name == "triz" {
				hasTriz = true
			}
			if name == "concept_extraction" {
				hasCE = true
			}
		}
		if hasTriz && hasCE {
			t.Errorf("hard-dependent techniques grouped together: %v", group)
		}
	}
}

func TestCluster_RespectsMaxParallelism(t *testing.T) {
	p := newTestPlanner(2)

	groups := p.cluster([]string{"po", "scamper", "random_entry", "yes_and"})
	for _, group := range groups {
		if len(group) > 2 {
			t.Errorf("group %v exceeds max parallelism 2", group)
		}
	}
}

func TestCluster_Deterministic(t *testing.T) {
	p := newTestPlanner(5)

	first := p.cluster([]string{"po", "scamper", "random_entry"})
	second := p.cluster([]string{"po", "scamper", "random_entry"})

	if len(first) != len(second) {
		t.Fatalf("group counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i]) != len(second[i]) {
			t.Fatalf("group %d sizes differ", i)
		}
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Error("clustering must be deterministic")
			}
		}
	}
}

func TestGenerate_ConvergencePlanAppended(t *testing.T) {
	p := newTestPlanner(5)

	result, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po", "scamper"},
		Mode:       domain.ModeParallel,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := result.Plans[len(result.Plans)-1]
	if !last.IsConvergence {
		t.Fatal("last plan should be the convergence plan")
	}
	if len(last.DependsOn) != len(result.Plans)-1 {
		t.Errorf("convergence should depend on all %d other plans, got %d",
			len(result.Plans)-1, len(last.DependsOn))
	}
}

func TestGenerate_SingleTechniqueNoConvergence(t *testing.T) {
	p := newTestPlanner(5)

	result, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"po"},
		Mode:       domain.ModeSequential,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, plan := range result.Plans {
		if plan.IsConvergence {
			t.Error("single technique should not get a convergence plan")
		}
	}
}

func TestGenerate_SequentialOrderRespectsHardDeps(t *testing.T) {
	p := newTestPlanner(5)

	result, err := p.Generate(Request{
		Problem:    "problem",
		Techniques: []string{"concept_extraction", "triz"},
		Mode:       domain.ModeSequential,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := result.Plans[0]
	if plan.Techniques[0] != "triz" || plan.Techniques[1] != "concept_extraction" {
		t.Errorf("expected triz before concept_extraction, got %v", plan.Techniques)
	}
}

func TestEstimate_ParallelSpeedup(t *testing.T) {
	p := newTestPlanner(5)

	seq := p.estimate(Request{Techniques: []string{"po", "scamper"}, Mode: domain.ModeSequential})
	par := p.estimate(Request{Techniques: []string{"po", "scamper"}, Mode: domain.ModeParallel})

	if par.TimeMs >= seq.TimeMs {
		t.Errorf("parallel estimate %d should beat sequential %d", par.TimeMs, seq.TimeMs)
	}
	if par.MemoryMB != seq.MemoryMB {
		t.Error("memory estimate should not depend on mode")
	}
	if par.Sessions != 2 {
		t.Errorf("expected 2 sessions, got %d", par.Sessions)
	}
}

func TestExecutionGraph_SequentialChain(t *testing.T) {
	p := newTestPlanner(5)

	g := p.buildExecutionGraph([]string{"po"}) // po — sequential, 4 шага
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}

	// Каждый шаг после первого зависит от предыдущего
	for i, node := range g.Nodes {
		if i == 0 {
			if len(node.DependsOn) != 0 {
				t.Error("first step should have no dependencies")
			}
			continue
		}
		if len(node.DependsOn) != 1 {
			t.Errorf("step %d should depend on exactly one node", node.Step)
		}
	}

	if len(g.CriticalPath) != 4 {
		t.Errorf("critical path of a chain should span all 4 steps, got %d", len(g.CriticalPath))
	}
	if g.MaxParallelism != 1 {
		t.Errorf("sequential technique should have parallelism 1, got %d", g.MaxParallelism)
	}
}

func TestExecutionGraph_ParallelSteps(t *testing.T) {
	p := newTestPlanner(5)

	g := p.buildExecutionGraph([]string{"six_hats"}) // fully parallel, 6 шагов
	for _, node := range g.Nodes {
		if len(node.DependsOn) != 0 {
			t.Errorf("parallel step %s should have no dependencies", node.ID)
		}
	}
	if g.MaxParallelism != 6 {
		t.Errorf("expected parallelism 6, got %d", g.MaxParallelism)
	}
}

func TestExecutionGraph_HybridFanOut(t *testing.T) {
	p := newTestPlanner(5)

	// concept_extraction: hybrid, FanOutAfter=2, 4 шага:
	// 1 → 2 → {3} → 4 (середина из одного узла) — вырожденный?
	// FanOutAfter=2, total=4: середина — шаг 3, join — шаг 4.
	g := p.buildExecutionGraph([]string{"concept_extraction"})

	byID := make(map[string]int)
	for _, node := range g.Nodes {
		byID[node.ID] = len(node.DependsOn)
	}

	if byID["concept_extraction.step1"] != 0 {
		t.Error("step1 should be a root")
	}
	if byID["concept_extraction.step2"] != 1 {
		t.Error("step2 should depend on step1")
	}
	if byID["concept_extraction.step3"] != 1 {
		t.Error("step3 should depend on the fan-out point")
	}
	if byID["concept_extraction.step4"] != 1 {
		t.Error("step4 should join the fan-out")
	}
}

func TestExecutionGraph_ErrorPolicy(t *testing.T) {
	p := newTestPlanner(5)

	g := p.buildExecutionGraph([]string{"po", "scamper"})
	if g.ErrorPolicy != "continue on non-critical failure" {
		t.Errorf("unexpected error policy %q", g.ErrorPolicy)
	}
	if g.Strategy == "" {
		t.Error("strategy hint should not be empty")
	}
}
