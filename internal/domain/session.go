package domain

import (
	"time"
)

// Session — одна сессия выполнения техники.
//
// Session создаётся когда:
//   - Вызывающая сторона начинает выполнение техники (step без sessionId)
//   - Planner разворачивает параллельную группу (по сессии на технику)
//
// Все мутации сессии проходят через её per-id lock (store.LockRegistry).
// Сессия уничтожается TTL-эвикцией, явным удалением или shutdown.
type Session struct {
	// ID — уникальный идентификатор ([A-Za-z0-9._-]{1,64}).
	ID string `json:"id"`

	// Technique — имя выполняемой техники.
	Technique string `json:"technique"`

	// Problem — формулировка задачи, над которой работает сессия.
	Problem string `json:"problem"`

	// Status — текущий статус (FSM в status.go).
	Status SessionStatus `json:"status"`

	// History — упорядоченная история выполненных шагов.
	History []StepRecord `json:"history"`

	// Insights — накопленные выводы сессии.
	Insights []string `json:"insights,omitempty"`

	// StartedAt — время создания сессии.
	StartedAt time.Time `json:"started_at"`

	// LastActivityAt — время последней активности (шаг, touch).
	LastActivityAt time.Time `json:"last_activity_at"`

	// EndedAt — время завершения. Nil, пока сессия не финализирована.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// ParallelGroupID — группа, к которой принадлежит сессия (опционально).
	ParallelGroupID string `json:"parallel_group_id,omitempty"`

	// DependsOn — сессии, которые должны завершиться до старта этой.
	DependsOn []string `json:"depends_on,omitempty"`

	// Parallel — метаданные параллельного выполнения (опционально).
	Parallel *ParallelMeta `json:"parallel,omitempty"`
}

// StepRecord — запись об одном выполненном шаге.
type StepRecord struct {
	// Technique — техника, в рамках которой выполнен шаг.
	Technique string `json:"technique"`

	// Step — номер шага (начиная с 1).
	Step int `json:"step"`

	// TotalSteps — общее количество шагов техники.
	TotalSteps int `json:"total_steps"`

	// Output — непрозрачный текстовый результат шага.
	Output string `json:"output"`

	// NextStepNeeded — ожидает ли вызывающая сторона следующий шаг.
	NextStepNeeded bool `json:"next_step_needed"`

	// Timestamp — время записи шага.
	Timestamp time.Time `json:"timestamp"`
}

// ParallelMeta — метаданные сессии внутри параллельного плана.
type ParallelMeta struct {
	// PlanID — план, породивший сессию.
	PlanID string `json:"plan_id"`

	// Techniques — техники группы, в которой выполняется сессия.
	Techniques []string `json:"techniques,omitempty"`

	// CanExecuteIndependently — true, если у сессии нет жёстких зависимостей.
	CanExecuteIndependently bool `json:"can_execute_independently"`
}

// NewSession создаёт сессию в статусе PENDING.
func NewSession(id, technique, problem string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		Technique:      technique,
		Problem:        problem,
		Status:         SessionStatusPending,
		History:        make([]StepRecord, 0),
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// Touch обновляет время последней активности.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// Clone возвращает глубокую копию сессии. Вся работа с полями вне
// блокировки сессии идёт по копиям, снятым под ней.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]StepRecord(nil), s.History...)
	c.Insights = append([]string(nil), s.Insights...)
	c.DependsOn = append([]string(nil), s.DependsOn...)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	if s.Parallel != nil {
		meta := *s.Parallel
		meta.Techniques = append([]string(nil), s.Parallel.Techniques...)
		c.Parallel = &meta
	}
	return &c
}

// RecordStep добавляет шаг в историю и обновляет активность.
func (s *Session) RecordStep(rec StepRecord) {
	rec.Timestamp = time.Now()
	s.History = append(s.History, rec)
	s.LastActivityAt = rec.Timestamp
}

// Transition переводит сессию в статус next согласно таблице переходов.
func (s *Session) Transition(next SessionStatus) error {
	if !s.Status.CanTransition(next) {
		return NewStateError("INVALID_TRANSITION",
			"session "+s.ID+" cannot transition from "+string(s.Status)+" to "+string(next),
			"check the session status before reporting progress",
		).WithContext("session_id", s.ID)
	}
	s.Status = next
	if next.IsTerminal() {
		now := time.Now()
		s.EndedAt = &now
	}
	return nil
}

// IsExpired проверяет, истёк ли TTL сессии относительно now.
// Завершённые сессии тоже эвиктятся по TTL (их результат уже
// забран или сохранён снапшотом).
func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ttl
}

// Duration возвращает продолжительность сессии.
// Для незавершённой сессии — время с момента старта.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// CurrentStep возвращает номер последнего записанного шага (0 — шагов не было).
func (s *Session) CurrentStep() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Step
}

// TotalSteps возвращает общее число шагов по последней записи (0 — неизвестно).
func (s *Session) TotalSteps() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].TotalSteps
}
