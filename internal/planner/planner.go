package planner

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/graph"
	"github.com/shaiso/Techne/internal/registry"
)

// Planner — генератор планов выполнения.
type Planner struct {
	registry    *registry.Registry
	maxParallel int
	logger      *slog.Logger
}

// Config — конфигурация Planner.
type Config struct {
	// Registry — реестр техник.
	Registry *registry.Registry

	// MaxParallel — потолок размера параллельной группы (default: 5).
	MaxParallel int

	// Logger — логгер.
	Logger *slog.Logger
}

// New создаёт новый Planner.
func New(cfg Config) *Planner {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = config.DefaultMaxParallel
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Planner{
		registry:    cfg.Registry,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

// Request — запрос на генерацию плана.
type Request struct {
	// Problem — формулировка задачи.
	Problem string

	// Techniques — запрошенные техники (в порядке предпочтения).
	Techniques []string

	// Mode — режим выполнения.
	Mode domain.ExecutionMode

	// Convergence — настройки синтеза (опционально).
	Convergence domain.ConvergenceOptions
}

// Warning — не блокирующее замечание к запросу.
type Warning struct {
	// Code — стабильный код замечания.
	Code string `json:"code"`

	// Message — описание.
	Message string `json:"message"`

	// Recommendation — рекомендация вызывающей стороне.
	Recommendation string `json:"recommendation,omitempty"`
}

// Result — результат генерации.
type Result struct {
	// Plans — планы-группы; последний — convergence-план,
	// если техник больше одной.
	Plans []*domain.Plan

	// Warnings — замечания валидации.
	Warnings []Warning

	// Estimate — оценка стоимости запроса.
	Estimate domain.ResourceEstimate

	// Graph — клиентский граф выполнения.
	Graph *domain.ExecutionGraph
}

// Generate валидирует запрос и строит планы.
func (p *Planner) Generate(req Request) (*Result, error) {
	warnings, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Warnings: warnings,
		Estimate: p.estimate(req),
	}

	switch req.Mode {
	case domain.ModeParallel:
		groups := p.cluster(req.Techniques)
		for _, group := range groups {
			result.Plans = append(result.Plans, p.buildPlan(group, domain.ModeParallel, nil))
		}

	default:
		ordered := p.sequentialOrder(req.Techniques)
		result.Plans = append(result.Plans, p.buildPlan(ordered, domain.ModeSequential, nil))
	}

	// Синтетический convergence-план, зависящий от всех остальных.
	if len(uniqueTechniques(req.Techniques)) > 1 {
		dependsOn := make([]string, 0, len(result.Plans))
		for _, plan := range result.Plans {
			dependsOn = append(dependsOn, plan.ID)
		}
		convergence := p.buildPlan([]string{"convergence"}, req.Mode, dependsOn)
		convergence.IsConvergence = true
		convergence.Techniques = uniqueTechniques(req.Techniques)
		result.Plans = append(result.Plans, convergence)
	}

	result.Graph = p.buildExecutionGraph(req.Techniques)

	p.logger.Debug("plan generated",
		"techniques", len(req.Techniques),
		"plans", len(result.Plans),
		"warnings", len(warnings),
	)

	return result, nil
}

// validate проверяет запрос. Возвращает замечания и/или ошибку.
func (p *Planner) validate(req Request) ([]Warning, error) {
	if len(req.Techniques) == 0 {
		return nil, domain.NewValidationError("MISSING_PARAMETER",
			"at least one technique is required",
			"pass one or more technique names",
		)
	}

	for _, name := range req.Techniques {
		if !p.registry.Has(name) {
			return nil, domain.NewValidationError("UNKNOWN_TECHNIQUE",
				fmt.Sprintf("technique %q is not registered", name),
				"check the technique name against the registry",
			).WithContext("technique", name)
		}
	}

	if req.Mode == domain.ModeParallel && len(req.Techniques) < 2 {
		return nil, domain.NewValidationError("TOO_FEW_TECHNIQUES",
			"parallel mode requires at least 2 techniques",
			"add another technique or use sequential mode",
		)
	}

	if req.Mode == domain.ModeParallel && len(uniqueTechniques(req.Techniques)) > p.maxParallel {
		return nil, domain.NewValidationError("MAX_PARALLELISM_EXCEEDED",
			fmt.Sprintf("request asks for %d techniques, ceiling is %d",
				len(uniqueTechniques(req.Techniques)), p.maxParallel),
			"split the request into smaller ones",
			"or raise TECHNE_MAX_PARALLEL",
		)
	}

	var warnings []Warning

	seen := make(map[string]bool)
	for _, name := range req.Techniques {
		if seen[name] {
			warnings = append(warnings, Warning{
				Code:           "DUPLICATE_TECHNIQUE",
				Message:        fmt.Sprintf("technique %q requested more than once", name),
				Recommendation: "duplicates are collapsed into one session",
			})
		}
		seen[name] = true
	}

	// Мягкие зависимости — предупреждение с рекомендацией порядка.
	unique := uniqueTechniques(req.Techniques)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			if before, after, ok := p.registry.SoftDependency(unique[i], unique[j]); ok {
				warnings = append(warnings, Warning{
					Code:           "DEPENDENT_TECHNIQUES",
					Message:        fmt.Sprintf("%s benefits from %s completing first", after, before),
					Recommendation: fmt.Sprintf("run %s before %s for better results", before, after),
				})
			}
		}
	}

	return warnings, nil
}

// estimate считает совокупную стоимость запроса по статической таблице.
// Время параллельного запроса масштабируется √n (ускорение с накладными
// расходами на координацию).
func (p *Planner) estimate(req Request) domain.ResourceEstimate {
	unique := uniqueTechniques(req.Techniques)

	var memoryMB, timeMs int
	for _, name := range unique {
		tech, err := p.registry.Get(name)
		if err != nil {
			continue
		}
		memoryMB += tech.Cost.MemoryMB
		timeMs += tech.Cost.TimeMs
	}

	if req.Mode == domain.ModeParallel && len(unique) > 1 {
		timeMs = int(float64(timeMs) / math.Sqrt(float64(len(unique))))
	}

	return domain.ResourceEstimate{
		MemoryMB: memoryMB,
		TimeMs:   timeMs,
		Sessions: len(unique),
	}
}

// cluster разбивает техники на совместимые группы.
//
// Жадная детерминированная кластеризация: следующая несгруппированная
// техника становится затравкой группы; остальные несгруппированные
// сканируются в обратном порядке и добавляются, если попарно совместимы
// со всеми уже взятыми, пока группа не достигнет потолка параллелизма.
func (p *Planner) cluster(techniques []string) [][]string {
	remaining := uniqueTechniques(techniques)
	grouped := make(map[string]bool)

	var groups [][]string
	for _, seed := range remaining {
		if grouped[seed] {
			continue
		}

		group := []string{seed}
		grouped[seed] = true

		for i := len(remaining) - 1; i >= 0 && len(group) < p.maxParallel; i-- {
			candidate := remaining[i]
			if grouped[candidate] {
				continue
			}

			compatible := true
			for _, member := range group {
				if !p.registry.Compatible(member, candidate) {
					compatible = false
					break
				}
			}

			if compatible {
				group = append(group, candidate)
				grouped[candidate] = true
			}
		}

		groups = append(groups, group)
	}

	return groups
}

// sequentialOrder упорядочивает техники топологически по жёстким
// зависимостям; при цикле в таблице реестра сохраняется входной порядок.
func (p *Planner) sequentialOrder(techniques []string) []string {
	unique := uniqueTechniques(techniques)

	g := graph.New()
	for _, name := range unique {
		g.AddNode(name)
	}
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			if before, after, ok := p.registry.HardDependency(unique[i], unique[j]); ok {
				g.AddEdge(before, after)
			}
		}
	}

	if order := g.TopologicalOrder(unique); order != nil {
		return order
	}
	return unique
}

// buildPlan собирает план для набора техник.
func (p *Planner) buildPlan(techniques []string, mode domain.ExecutionMode, dependsOn []string) *domain.Plan {
	plan := &domain.Plan{
		ID:         domain.NewPlanID(),
		Techniques: append([]string(nil), techniques...),
		Mode:       mode,
		DependsOn:  dependsOn,
		Status:     domain.PlanStatusPending,
		CreatedAt:  time.Now(),
	}

	for _, name := range techniques {
		tech, err := p.registry.Get(name)
		if err != nil {
			// convergence — синтетическая техника без записи в реестре
			plan.Workflow = append(plan.Workflow, domain.PlanStep{
				Technique:   name,
				Step:        1,
				TotalSteps:  3,
				Description: "synthesize parallel results",
			})
			continue
		}

		total := tech.TotalSteps()
		for step := 1; step <= total; step++ {
			plan.Workflow = append(plan.Workflow, domain.PlanStep{
				Technique:   name,
				Step:        step,
				TotalSteps:  total,
				Description: tech.StepDescriptions[step-1],
			})
		}
	}

	return plan
}

// uniqueTechniques убирает дубликаты, сохраняя порядок первого вхождения.
func uniqueTechniques(techniques []string) []string {
	seen := make(map[string]bool, len(techniques))
	out := make([]string, 0, len(techniques))
	for _, name := range techniques {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
