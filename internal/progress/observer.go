package progress

import (
	"time"

	"github.com/shaiso/Techne/internal/domain"
)

// Observer — подписчик на отчёты о прогрессе.
type Observer interface {
	OnProgress(rec domain.ProgressRecord)
}

// ObserverFunc адаптирует функцию к интерфейсу Observer.
type ObserverFunc func(rec domain.ProgressRecord)

// OnProgress реализует Observer.
func (f ObserverFunc) OnProgress(rec domain.ProgressRecord) { f(rec) }

// GroupCompletion — событие завершения параллельной группы.
type GroupCompletion struct {
	// GroupID — завершившаяся группа.
	GroupID string `json:"group_id"`

	// Success — true, если ни одна сессия не упала.
	Success bool `json:"success"`

	// Completed — завершённые сессии.
	Completed []string `json:"completed"`

	// Failed — упавшие сессии.
	Failed []string `json:"failed,omitempty"`

	// FinishedAt — момент, когда счётчики достигли размера группы.
	FinishedAt time.Time `json:"finished_at"`
}

// CompletionObserver — подписчик на завершение групп.
type CompletionObserver interface {
	OnGroupCompleted(ev GroupCompletion)
}

// CompletionObserverFunc адаптирует функцию к CompletionObserver.
type CompletionObserverFunc func(ev GroupCompletion)

// OnGroupCompleted реализует CompletionObserver.
func (f CompletionObserverFunc) OnGroupCompleted(ev GroupCompletion) { f(ev) }

// UnsubscribeFunc отписывает подписчика. Повторные вызовы безопасны.
type UnsubscribeFunc func()

// observerSet — упорядоченный набор подписчиков с отпиской по id.
type observerSet[T any] struct {
	nextID  int
	entries []observerEntry[T]
}

type observerEntry[T any] struct {
	id  int
	obs T
}

// add регистрирует подписчика и возвращает его id.
func (s *observerSet[T]) add(obs T) int {
	s.nextID++
	s.entries = append(s.entries, observerEntry[T]{id: s.nextID, obs: obs})
	return s.nextID
}

// remove убирает подписчика по id.
func (s *observerSet[T]) remove(id int) {
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// snapshot возвращает копию подписчиков для рассылки вне мьютекса.
func (s *observerSet[T]) snapshot() []T {
	if len(s.entries) == 0 {
		return nil
	}
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.obs
	}
	return out
}
