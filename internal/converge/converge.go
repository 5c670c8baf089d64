package converge

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
)

// minTokenLength — токены не длиннее этого порога не считаются темами.
const minTokenLength = 4

// defaultTopThemes — сколько тем выделяет шаг 2.
const defaultTopThemes = 5

// stopWords — частые слова, исключаемые из тем.
var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "before": true,
	"being": true, "between": true, "could": true, "every": true,
	"might": true, "other": true, "should": true, "their": true,
	"there": true, "these": true, "thing": true, "through": true,
	"under": true, "where": true, "which": true, "while": true,
	"would": true,
}

// ParallelResult — результат одной параллельной сессии.
type ParallelResult struct {
	// SessionID — сессия-источник.
	SessionID string `json:"session_id"`

	// Technique — техника источника.
	Technique string `json:"technique"`

	// Insights — выводы сессии в порядке получения.
	Insights []string `json:"insights"`

	// Confidence — уверенность источника в своих выводах [0, 1].
	Confidence float64 `json:"confidence"`
}

// Request — запрос одного шага синтеза.
type Request struct {
	// Step — номер шага (с 1).
	Step int

	// Results — результаты параллельных сессий.
	Results []ParallelResult

	// Options — стратегия и лимиты синтеза.
	Options domain.ConvergenceOptions
}

// Synthesis — финальный результат синтеза (шаг 3 и дальше).
type Synthesis struct {
	// Strategy — применённая стратегия.
	Strategy domain.ConvergenceStrategy `json:"strategy"`

	// Insights — итоговые выводы.
	Insights []string `json:"insights"`

	// Primary — главный вывод (hierarchical).
	Primary string `json:"primary,omitempty"`

	// Supporting — поддерживающие выводы (hierarchical).
	Supporting []string `json:"supporting,omitempty"`

	// Sources — техники, чьи выводы вошли в результат.
	Sources []string `json:"sources"`
}

// StepResult — результат одного шага синтеза.
type StepResult struct {
	// Step — выполненный шаг.
	Step int `json:"step"`

	// Buckets — выводы по техникам-источникам (шаг 1).
	Buckets map[string][]string `json:"buckets,omitempty"`

	// Themes — выделенные темы по убыванию частоты (шаг 2).
	Themes []string `json:"themes,omitempty"`

	// EstimatedConflicts — оценка числа конфликтов источников (шаг 2).
	EstimatedConflicts int `json:"estimated_conflicts,omitempty"`

	// Synthesis — финальный синтез (шаг 3 и дальше).
	Synthesis *Synthesis `json:"synthesis,omitempty"`

	// Notes — пояснения шага для вызывающей стороны.
	Notes []string `json:"notes,omitempty"`

	// NextStepNeeded — остались ли обязательные шаги.
	NextStepNeeded bool `json:"next_step_needed"`
}

// Engine — движок синтеза.
type Engine struct {
	conflictRate float64
	topThemes    int
	logger       *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// ConflictRate — доля источников, дающая оценку числа конфликтов
	// (default: 0.1).
	ConflictRate float64

	// TopThemes — сколько тем выделяет шаг 2 (default: 5).
	TopThemes int

	// Logger — логгер.
	Logger *slog.Logger
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	conflictRate := cfg.ConflictRate
	if conflictRate <= 0 || conflictRate > 1 {
		conflictRate = config.DefaultConflictRate
	}
	topThemes := cfg.TopThemes
	if topThemes <= 0 {
		topThemes = defaultTopThemes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		conflictRate: conflictRate,
		topThemes:    topThemes,
		logger:       logger,
	}
}

// Step выполняет один шаг синтеза.
func (e *Engine) Step(req Request) (*StepResult, error) {
	if req.Step < 1 {
		return nil, domain.NewValidationError("INVALID_STEP",
			fmt.Sprintf("convergence step %d is out of range", req.Step),
			"steps are numbered from 1",
		)
	}
	if len(req.Results) == 0 {
		return nil, domain.NewValidationError("MISSING_PARAMETER",
			"convergence requires at least one parallel result",
			"supply results inline",
			"or wait for the parallel group to complete",
		)
	}

	switch req.Step {
	case 1:
		return e.collect(req), nil
	case 2:
		return e.extractThemes(req), nil
	case 3:
		return e.synthesize(req, false)
	default:
		return e.synthesize(req, true)
	}
}

// collect — шаг 1: разбивка выводов по техникам-источникам.
func (e *Engine) collect(req Request) *StepResult {
	buckets := make(map[string][]string, len(req.Results))
	total := 0
	for _, res := range req.Results {
		buckets[res.Technique] = append(buckets[res.Technique], res.Insights...)
		total += len(res.Insights)
	}

	return &StepResult{
		Step:    1,
		Buckets: buckets,
		Notes: []string{
			fmt.Sprintf("collected %d insights from %d sources", total, len(req.Results)),
		},
		NextStepNeeded: true,
	}
}

// extractThemes — шаг 2: частотные токены как темы плюс оценка
// конфликтов.
func (e *Engine) extractThemes(req Request) *StepResult {
	freq := make(map[string]int)
	for _, res := range req.Results {
		for _, insight := range res.Insights {
			for _, token := range tokenize(insight) {
				freq[token]++
			}
		}
	}

	type themeCount struct {
		token string
		count int
	}
	ranked := make([]themeCount, 0, len(freq))
	for token, count := range freq {
		ranked = append(ranked, themeCount{token, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	themes := make([]string, 0, e.topThemes)
	for _, tc := range ranked {
		if len(themes) == e.topThemes {
			break
		}
		themes = append(themes, tc.token)
	}

	conflicts := int(math.Ceil(float64(len(req.Results)) * e.conflictRate))

	return &StepResult{
		Step:               2,
		Themes:             themes,
		EstimatedConflicts: conflicts,
		Notes: []string{
			fmt.Sprintf("%d themes across %d sources, ~%d conflicts expected",
				len(themes), len(req.Results), conflicts),
		},
		NextStepNeeded: true,
	}
}

// synthesize — шаг 3: финальный синтез; deepening — открытый проход
// углубления для шагов дальше третьего.
func (e *Engine) synthesize(req Request, deepening bool) (*StepResult, error) {
	strategy := req.Options.Strategy
	if strategy == "" {
		strategy = domain.StrategyMerge
	}
	maxInsights := req.Options.MaxInsights
	if maxInsights <= 0 {
		maxInsights = 5
	}

	var syn *Synthesis
	switch strategy {
	case domain.StrategyMerge:
		syn = mergeSynthesis(req.Results, maxInsights)
	case domain.StrategySelect:
		syn = selectSynthesis(req.Results, maxInsights)
	case domain.StrategyHierarchical:
		syn = hierarchicalSynthesis(req.Results, maxInsights)
	default:
		return nil, domain.NewConvergenceError("UNKNOWN_STRATEGY",
			fmt.Sprintf("unknown convergence strategy %q", strategy),
			"use merge, select or hierarchical",
		)
	}

	result := &StepResult{
		Step:      req.Step,
		Synthesis: syn,
	}
	if deepening {
		result.Notes = append(result.Notes,
			fmt.Sprintf("deepening pass %d over %d sources", req.Step-3, len(req.Results)))
		result.NextStepNeeded = false
	}

	e.logger.Debug("convergence synthesized",
		"strategy", strategy,
		"sources", len(req.Results),
		"insights", len(syn.Insights),
	)

	return result, nil
}

// mergeSynthesis — дедупликация выводов всех источников, не больше max.
func mergeSynthesis(results []ParallelResult, max int) *Synthesis {
	seen := make(map[string]bool)
	var insights []string
	for _, res := range results {
		for _, insight := range res.Insights {
			key := strings.ToLower(strings.TrimSpace(insight))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			insights = append(insights, insight)
			if len(insights) == max {
				return &Synthesis{
					Strategy: domain.StrategyMerge,
					Insights: insights,
					Sources:  sourcesOf(results),
				}
			}
		}
	}
	return &Synthesis{
		Strategy: domain.StrategyMerge,
		Insights: insights,
		Sources:  sourcesOf(results),
	}
}

// selectSynthesis — выводы источника с максимальной уверенностью.
func selectSynthesis(results []ParallelResult, max int) *Synthesis {
	ranked := append([]ParallelResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	top := ranked[0]
	insights := top.Insights
	if len(insights) > max {
		insights = insights[:max]
	}

	return &Synthesis{
		Strategy: domain.StrategySelect,
		Insights: append([]string(nil), insights...),
		Sources:  []string{top.Technique},
	}
}

// hierarchicalSynthesis — ведущий вывод первого источника как главный,
// по одному из остальных как поддерживающие.
func hierarchicalSynthesis(results []ParallelResult, max int) *Synthesis {
	syn := &Synthesis{
		Strategy: domain.StrategyHierarchical,
		Sources:  sourcesOf(results),
	}

	if len(results[0].Insights) > 0 {
		syn.Primary = results[0].Insights[0]
		syn.Insights = append(syn.Insights, syn.Primary)
	}
	for _, res := range results[1:] {
		if len(syn.Supporting) >= max-1 {
			break
		}
		if len(res.Insights) > 0 {
			syn.Supporting = append(syn.Supporting, res.Insights[0])
			syn.Insights = append(syn.Insights, res.Insights[0])
		}
	}

	return syn
}

// sourcesOf возвращает уникальные техники-источники в порядке входа.
func sourcesOf(results []ParallelResult) []string {
	seen := make(map[string]bool, len(results))
	out := make([]string, 0, len(results))
	for _, res := range results {
		if res.Technique == "" || seen[res.Technique] {
			continue
		}
		seen[res.Technique] = true
		out = append(out, res.Technique)
	}
	return out
}

// tokenize разбивает текст на значимые токены: нижний регистр, только
// буквы и цифры, длина строго больше порога, без стоп-слов.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	var out []string
	for _, f := range fields {
		if len(f) <= minTokenLength || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
