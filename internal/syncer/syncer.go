package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/store"
)

// Strategy — стратегия доставки обновлений общего контекста.
type Strategy string

const (
	// StrategyImmediate — применить и разослать сразу.
	StrategyImmediate Strategy = "immediate"

	// StrategyBatched — копить и применять одним слиянием по размеру
	// очереди или debounce-таймеру.
	StrategyBatched Strategy = "batched"

	// StrategyCheckpoint — копить; применяет только явный Checkpoint.
	StrategyCheckpoint Strategy = "checkpoint"
)

// AppliedUpdate — событие применения обновления к контексту группы.
type AppliedUpdate struct {
	// GroupID — группа-владелец контекста.
	GroupID string `json:"group_id"`

	// Update — применённое (возможно, слитое из очереди) обновление.
	Update domain.ContextUpdate `json:"update"`

	// UpdateCount — счётчик применённых обновлений после этого.
	UpdateCount int `json:"update_count"`

	// Merged — сколько обновлений очереди слито в это (1 для immediate).
	Merged int `json:"merged"`

	// Timestamp — время применения.
	Timestamp time.Time `json:"timestamp"`
}

// Observer — подписчик на применённые обновления контекста.
type Observer interface {
	OnContextApplied(ev AppliedUpdate)
}

// ObserverFunc адаптирует функцию к интерфейсу Observer.
type ObserverFunc func(ev AppliedUpdate)

// OnContextApplied реализует Observer.
func (f ObserverFunc) OnContextApplied(ev AppliedUpdate) { f(ev) }

// Theme — тема с накопленным весом.
type Theme struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// groupState — контекст и очередь одной группы.
type groupState struct {
	strategy Strategy
	context  *domain.SharedContext
	queue    []domain.ContextUpdate
	debounce *time.Timer
}

// Synchronizer — синхронизатор общих контекстов групп.
type Synchronizer struct {
	batchWindow  time.Duration
	batchMaxSize int
	locks        *store.LockRegistry
	logger       *slog.Logger

	mu        sync.Mutex
	groups    map[string]*groupState
	observers []Observer
	stopped   bool
}

// Config — конфигурация Synchronizer.
type Config struct {
	// BatchWindow — debounce-окно батч-стратегии (default: 100ms).
	BatchWindow time.Duration

	// BatchMaxSize — размер очереди, при котором батч сбрасывается
	// немедленно (default: 10).
	BatchMaxSize int

	// Logger — логгер.
	Logger *slog.Logger
}

// New создаёт Synchronizer.
func New(cfg Config) *Synchronizer {
	batchWindow := cfg.BatchWindow
	if batchWindow <= 0 {
		batchWindow = config.DefaultBatchWindow
	}
	batchMaxSize := cfg.BatchMaxSize
	if batchMaxSize <= 0 {
		batchMaxSize = config.DefaultBatchMaxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		batchWindow:  batchWindow,
		batchMaxSize: batchMaxSize,
		locks:        store.NewLockRegistry(),
		logger:       logger,
		groups:       make(map[string]*groupState),
	}
}

// Subscribe подписывает наблюдателя на применённые обновления.
func (s *Synchronizer) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// InitSharedContext создаёт общий контекст группы с выбранной
// стратегией. Повторная инициализация — ошибка.
func (s *Synchronizer) InitSharedContext(groupID string, strategy Strategy) error {
	switch strategy {
	case StrategyImmediate, StrategyBatched, StrategyCheckpoint:
	case "":
		strategy = StrategyImmediate
	default:
		return domain.NewValidationError("UNKNOWN_STRATEGY",
			fmt.Sprintf("unknown context strategy %q", strategy),
			"use immediate, batched or checkpoint",
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; ok {
		return domain.NewStateError("CONTEXT_EXISTS",
			fmt.Sprintf("shared context for group %q already initialized", groupID),
		).WithContext("group_id", groupID)
	}

	s.groups[groupID] = &groupState{
		strategy: strategy,
		context:  domain.NewSharedContext(groupID),
	}
	return nil
}

// UpdateSharedContext доставляет частичное обновление контекста группы
// согласно её стратегии. Обновления одной группы сериализуются.
func (s *Synchronizer) UpdateSharedContext(ctx context.Context, groupID string, upd domain.ContextUpdate) error {
	return s.locks.WithLock(ctx, groupID, func() error {
		s.mu.Lock()

		st, ok := s.groups[groupID]
		if !ok {
			s.mu.Unlock()
			return contextNotFound(groupID)
		}

		switch st.strategy {
		case StrategyImmediate:
			ev := applyLocked(st, upd, 1)
			observers := append([]Observer(nil), s.observers...)
			s.mu.Unlock()
			emit(observers, ev)
			return nil

		case StrategyBatched:
			st.queue = append(st.queue, upd)
			if len(st.queue) >= s.batchMaxSize {
				ev := s.flushLocked(groupID, st)
				observers := append([]Observer(nil), s.observers...)
				s.mu.Unlock()
				if ev != nil {
					emit(observers, *ev)
				}
				return nil
			}
			// Debounce: таймер перезапускается каждым обновлением.
			if st.debounce != nil {
				st.debounce.Stop()
			}
			if !s.stopped {
				st.debounce = time.AfterFunc(s.batchWindow, func() {
					s.flushDebounced(groupID)
				})
			}
			s.mu.Unlock()
			return nil

		default: // checkpoint
			st.queue = append(st.queue, upd)
			s.mu.Unlock()
			return nil
		}
	})
}

// Checkpoint сбрасывает накопленную очередь группы одним слиянием.
// Работает для batched- и checkpoint-стратегий; для immediate — no-op.
func (s *Synchronizer) Checkpoint(ctx context.Context, groupID string) error {
	return s.locks.WithLock(ctx, groupID, func() error {
		s.mu.Lock()

		st, ok := s.groups[groupID]
		if !ok {
			s.mu.Unlock()
			return contextNotFound(groupID)
		}

		ev := s.flushLocked(groupID, st)
		observers := append([]Observer(nil), s.observers...)
		s.mu.Unlock()

		if ev != nil {
			emit(observers, *ev)
		}
		return nil
	})
}

// flushDebounced — срабатывание debounce-таймера батч-стратегии.
func (s *Synchronizer) flushDebounced(groupID string) {
	if err := s.locks.WithLock(context.Background(), groupID, func() error {
		s.mu.Lock()

		st, ok := s.groups[groupID]
		if !ok {
			s.mu.Unlock()
			return nil
		}

		ev := s.flushLocked(groupID, st)
		observers := append([]Observer(nil), s.observers...)
		s.mu.Unlock()

		if ev != nil {
			emit(observers, *ev)
		}
		return nil
	}); err != nil {
		s.logger.Warn("debounced flush failed", "group_id", groupID, "error", err)
	}
}

// flushLocked сливает очередь в одно обновление и применяет его.
// Вызывается под s.mu. Пустая очередь — nil.
func (s *Synchronizer) flushLocked(groupID string, st *groupState) *AppliedUpdate {
	if st.debounce != nil {
		st.debounce.Stop()
		st.debounce = nil
	}
	if len(st.queue) == 0 {
		return nil
	}

	merged := st.queue[0]
	for _, upd := range st.queue[1:] {
		merged.Merge(upd)
	}
	count := len(st.queue)
	st.queue = nil

	if count > 1 {
		// Слитое обновление принадлежит нескольким сессиям.
		merged.SessionID = ""
	}

	ev := applyLocked(st, merged, count)

	s.logger.Debug("context batch flushed",
		"group_id", groupID, "merged", count)

	return &ev
}

// applyLocked применяет обновление к контексту. Вызывается под s.mu.
func applyLocked(st *groupState, upd domain.ContextUpdate, merged int) AppliedUpdate {
	st.context.Apply(upd)
	return AppliedUpdate{
		GroupID:     st.context.GroupID,
		Update:      upd,
		UpdateCount: st.context.UpdateCount,
		Merged:      merged,
		Timestamp:   st.context.LastUpdatedAt,
	}
}

// Context возвращает копию общего контекста группы.
func (s *Synchronizer) Context(groupID string) (*domain.SharedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.groups[groupID]
	if !ok {
		return nil, contextNotFound(groupID)
	}
	return copyContext(st.context), nil
}

// ContextSummary возвращает topN тем контекста по убыванию веса.
// При равных весах порядок стабилен по имени.
func (s *Synchronizer) ContextSummary(groupID string, topN int) ([]Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.groups[groupID]
	if !ok {
		return nil, contextNotFound(groupID)
	}

	themes := make([]Theme, 0, len(st.context.ThemeWeights))
	for name, weight := range st.context.ThemeWeights {
		themes = append(themes, Theme{Name: name, Weight: weight})
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Weight != themes[j].Weight {
			return themes[i].Weight > themes[j].Weight
		}
		return themes[i].Name < themes[j].Name
	})

	if topN > 0 && len(themes) > topN {
		themes = themes[:topN]
	}
	return themes, nil
}

// MergeContexts строит синтетическое объединение контекстов групп:
// выводы конкатенируются, веса тем складываются, метрики сливаются
// в порядке аргументов (последняя запись побеждает).
func (s *Synchronizer) MergeContexts(groupIDs []string) (*domain.SharedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := domain.NewSharedContext("")
	for _, groupID := range groupIDs {
		st, ok := s.groups[groupID]
		if !ok {
			return nil, contextNotFound(groupID)
		}
		merged.Insights = append(merged.Insights, st.context.Insights...)
		for theme, weight := range st.context.ThemeWeights {
			merged.ThemeWeights[theme] += weight
		}
		for name, value := range st.context.Metrics {
			merged.Metrics[name] = value
		}
		merged.UpdateCount += st.context.UpdateCount
	}
	return merged, nil
}

// DropContext убирает контекст группы и отменяет её debounce-таймер.
// Несброшенная очередь теряется.
func (s *Synchronizer) DropContext(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.groups[groupID]; ok {
		if st.debounce != nil {
			st.debounce.Stop()
		}
		delete(s.groups, groupID)
	}
}

// Stop отменяет все debounce-таймеры и выгоняет ожидающих из очередей
// сериализации. После Stop синхронизатор не используется.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, st := range s.groups {
		if st.debounce != nil {
			st.debounce.Stop()
			st.debounce = nil
		}
	}
	s.mu.Unlock()

	s.locks.ClearAll()
}

// contextNotFound — ошибка отсутствия контекста группы.
func contextNotFound(groupID string) error {
	return domain.NewStateError("CONTEXT_NOT_FOUND",
		fmt.Sprintf("shared context for group %q is not initialized", groupID),
		"initialize the shared context before updating it",
	).WithContext("group_id", groupID)
}

// copyContext делает глубокую копию контекста.
func copyContext(c *domain.SharedContext) *domain.SharedContext {
	out := &domain.SharedContext{
		GroupID:       c.GroupID,
		Insights:      append([]string(nil), c.Insights...),
		ThemeWeights:  make(map[string]float64, len(c.ThemeWeights)),
		Metrics:       make(map[string]float64, len(c.Metrics)),
		UpdateCount:   c.UpdateCount,
		LastUpdatedAt: c.LastUpdatedAt,
	}
	for theme, weight := range c.ThemeWeights {
		out.ThemeWeights[theme] = weight
	}
	for name, value := range c.Metrics {
		out.Metrics[name] = value
	}
	return out
}

// emit рассылает событие подписчикам.
func emit(observers []Observer, ev AppliedUpdate) {
	for _, obs := range observers {
		obs.OnContextApplied(ev)
	}
}
