package domain

import (
	"time"
)

// ParallelGroup — группа сессий, выполняющихся параллельно над одной
// задачей и сходящихся в общий синтез.
//
// Инвариант: Completed ⊆ SessionIDs. Статус меняется только вперёд
// (таблица переходов в status.go).
type ParallelGroup struct {
	// ID — уникальный идентификатор группы.
	ID string `json:"id"`

	// PlanID — план, породивший группу.
	PlanID string `json:"plan_id,omitempty"`

	// SessionIDs — сессии-участники.
	SessionIDs []string `json:"session_ids"`

	// Completed — множество завершённых сессий.
	Completed map[string]bool `json:"completed"`

	// Failed — множество упавших сессий.
	Failed map[string]bool `json:"failed"`

	// Status — статус группы.
	Status GroupStatus `json:"status"`

	// Convergence — настройки синтеза результатов.
	Convergence ConvergenceOptions `json:"convergence"`

	// Metadata — сводные метаданные группы.
	Metadata GroupMetadata `json:"metadata"`
}

// ConvergenceStrategy — стратегия синтеза результатов группы.
type ConvergenceStrategy string

const (
	// StrategyMerge — дедупликация и объединение выводов всех источников.
	StrategyMerge ConvergenceStrategy = "merge"

	// StrategySelect — выбор выводов источника с максимальной уверенностью.
	StrategySelect ConvergenceStrategy = "select"

	// StrategyHierarchical — главный вывод + поддерживающие из остальных.
	StrategyHierarchical ConvergenceStrategy = "hierarchical"
)

// ConvergenceOptions — настройки convergence-шага группы.
type ConvergenceOptions struct {
	// Strategy — стратегия синтеза (default: merge).
	Strategy ConvergenceStrategy `json:"strategy,omitempty"`

	// MaxInsights — максимум итоговых выводов (default: 5).
	MaxInsights int `json:"max_insights,omitempty"`
}

// GroupMetadata — сводные метаданные группы.
type GroupMetadata struct {
	// TotalSteps — суммарное число шагов всех сессий.
	TotalSteps int `json:"total_steps"`

	// Techniques — техники участников.
	Techniques []string `json:"techniques"`

	// StartedAt — время создания группы.
	StartedAt time.Time `json:"started_at"`

	// EstimatedCompletion — оценка времени завершения.
	EstimatedCompletion time.Time `json:"estimated_completion,omitempty"`
}

// NewParallelGroup создаёт группу в статусе ACTIVE.
func NewParallelGroup(id, planID string, sessionIDs []string, opts ConvergenceOptions) *ParallelGroup {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMerge
	}
	if opts.MaxInsights <= 0 {
		opts.MaxInsights = 5
	}
	return &ParallelGroup{
		ID:          id,
		PlanID:      planID,
		SessionIDs:  append([]string(nil), sessionIDs...),
		Completed:   make(map[string]bool),
		Failed:      make(map[string]bool),
		Status:      GroupStatusActive,
		Convergence: opts,
		Metadata:    GroupMetadata{StartedAt: time.Now()},
	}
}

// Contains проверяет, входит ли сессия в группу.
func (g *ParallelGroup) Contains(sessionID string) bool {
	for _, id := range g.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// MarkCompleted помечает сессию группы завершённой.
// Сессии вне группы игнорируются: Completed всегда ⊆ SessionIDs.
func (g *ParallelGroup) MarkCompleted(sessionID string) {
	if g.Contains(sessionID) {
		g.Completed[sessionID] = true
		delete(g.Failed, sessionID)
	}
}

// MarkFailed помечает сессию группы упавшей.
func (g *ParallelGroup) MarkFailed(sessionID string) {
	if g.Contains(sessionID) {
		g.Failed[sessionID] = true
	}
}

// IsFinished проверяет, достигли ли завершённые+упавшие размера группы.
func (g *ParallelGroup) IsFinished() bool {
	return len(g.Completed)+len(g.Failed) >= len(g.SessionIDs)
}

// Transition переводит группу в статус next согласно таблице переходов.
func (g *ParallelGroup) Transition(next GroupStatus) error {
	if !g.Status.CanTransition(next) {
		return NewStateError("INVALID_GROUP_TRANSITION",
			"group "+g.ID+" cannot transition from "+string(g.Status)+" to "+string(next),
		).WithContext("group_id", g.ID)
	}
	g.Status = next
	return nil
}
