package domain

import (
	"time"
)

// Plan — сгенерированный план выполнения одной группы техник.
//
// Plan неизменяем после создания; меняется только Status.
// Для параллельного запроса planner создаёт несколько планов-групп
// плюс один синтетический convergence-план, зависящий от остальных.
type Plan struct {
	// ID — уникальный идентификатор плана.
	ID string `json:"id"`

	// Techniques — техники, входящие в план (для convergence — исходные техники).
	Techniques []string `json:"techniques"`

	// Workflow — упорядоченный список шагов по всем техникам плана.
	Workflow []PlanStep `json:"workflow"`

	// Mode — режим выполнения.
	Mode ExecutionMode `json:"mode"`

	// DependsOn — планы, которые должны завершиться до старта этого.
	DependsOn []string `json:"depends_on,omitempty"`

	// IsConvergence — true для синтетического convergence-плана.
	IsConvergence bool `json:"is_convergence,omitempty"`

	// Status — статусная отметка (единственное изменяемое поле).
	Status PlanStatus `json:"status"`

	// CreatedAt — время создания плана.
	CreatedAt time.Time `json:"created_at"`
}

// PlanStatus — статусная отметка плана.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// PlanStep — один шаг рабочего процесса техники внутри плана.
type PlanStep struct {
	// Technique — техника шага.
	Technique string `json:"technique"`

	// Step — номер шага внутри техники (начиная с 1).
	Step int `json:"step"`

	// TotalSteps — общее число шагов техники.
	TotalSteps int `json:"total_steps"`

	// Description — краткое описание шага из реестра техник.
	Description string `json:"description,omitempty"`
}

// ResourceEstimate — оценка стоимости выполнения запроса.
type ResourceEstimate struct {
	// MemoryMB — суммарная оценка памяти.
	MemoryMB int `json:"memory_mb"`

	// TimeMs — оценка времени с учётом параллельного ускорения (√n).
	TimeMs int `json:"time_ms"`

	// Sessions — количество порождаемых сессий.
	Sessions int `json:"sessions"`
}

// ExecutionGraph — клиентский граф выполнения запроса.
//
// Узлы — отдельные шаги техник; рёбра — зависимости между шагами,
// выведенные из паттернов реестра техник.
type ExecutionGraph struct {
	// Nodes — все узлы графа.
	Nodes []ExecutionNode `json:"nodes"`

	// MaxParallelism — максимальное число одновременно выполнимых узлов.
	MaxParallelism int `json:"max_parallelism"`

	// CriticalPath — самая длинная цепочка зависимостей (id узлов).
	CriticalPath []string `json:"critical_path"`

	// Strategy — текстовая подсказка по стратегии выполнения.
	Strategy string `json:"strategy"`

	// ErrorPolicy — декларируемая политика обработки ошибок.
	ErrorPolicy string `json:"error_policy"`
}

// ExecutionNode — узел клиентского графа: один шаг одной техники.
type ExecutionNode struct {
	// ID — идентификатор узла ("{technique}.step{N}").
	ID string `json:"id"`

	// Technique — техника узла.
	Technique string `json:"technique"`

	// Step — номер шага.
	Step int `json:"step"`

	// DependsOn — id узлов, которые должны завершиться раньше.
	DependsOn []string `json:"depends_on,omitempty"`
}
