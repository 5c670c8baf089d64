package domain

import (
	"time"
)

// ProgressRecord — последний отчёт о прогрессе сессии.
//
// Отчёты приходят от внешнего исполнителя шагов; движок хранит
// только последнее состояние на сессию плюс скользящее окно
// длительностей шагов (progress.Coordinator).
type ProgressRecord struct {
	// SessionID — сессия, о которой отчёт.
	SessionID string `json:"session_id"`

	// GroupID — группа сессии (пусто для одиночных сессий).
	GroupID string `json:"group_id,omitempty"`

	// Status — статус на момент отчёта.
	Status ProgressStatus `json:"status"`

	// CurrentStep — текущий шаг.
	CurrentStep int `json:"current_step"`

	// TotalSteps — общее число шагов.
	TotalSteps int `json:"total_steps"`

	// Timestamp — время отчёта.
	Timestamp time.Time `json:"timestamp"`

	// Error — сообщение об ошибке (для status=failed).
	Error string `json:"error,omitempty"`

	// DependsOn — зависимости, которых ждёт сессия (для status=waiting).
	DependsOn []string `json:"depends_on,omitempty"`
}

// EffectiveSteps возвращает число шагов, засчитываемых в общий прогресс:
// завершённая сессия засчитывает все шаги, остальные — текущий шаг.
func (r *ProgressRecord) EffectiveSteps() int {
	if r.Status == ProgressCompleted {
		return r.TotalSteps
	}
	if r.CurrentStep > r.TotalSteps {
		return r.TotalSteps
	}
	return r.CurrentStep
}

// GroupProgress — сводный прогресс параллельной группы.
type GroupProgress struct {
	// GroupID — идентификатор группы.
	GroupID string `json:"group_id"`

	// Sessions — последние отчёты по каждой сессии группы.
	Sessions map[string]ProgressRecord `json:"sessions"`

	// StatusCounts — количество сессий в каждом статусе.
	StatusCounts map[ProgressStatus]int `json:"status_counts"`

	// Overall — суммарный прогресс в диапазоне [0, 1].
	Overall float64 `json:"overall"`

	// EstimatedRemaining — оценка оставшегося времени.
	// Nil, пока Overall равен нулю.
	EstimatedRemaining *time.Duration `json:"estimated_remaining,omitempty"`
}
