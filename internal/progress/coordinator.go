package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/store"
)

// stepDurationWindow — размер скользящего окна длительностей шагов.
const stepDurationWindow = 10

// Coordinator — координатор прогресса.
//
// Хранит последний отчёт каждой сессии, счётчики групп и окна
// длительностей шагов. Записи применяются строго по одной на сессию:
// конкурентные ReportProgress по одному ключу сериализуются FIFO.
type Coordinator struct {
	locks     *store.LockRegistry
	retention time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	latest    map[string]domain.ProgressRecord
	durations map[string][]time.Duration
	groups    map[string]*domain.ParallelGroup
	cleanups  map[string]*time.Timer

	global     observerSet[Observer]
	byGroup    map[string]*observerSet[Observer]
	bySession  map[string]*observerSet[Observer]
	completion observerSet[CompletionObserver]

	stopped bool
}

// Config — конфигурация Coordinator.
type Config struct {
	// Retention — задержка перед очисткой данных завершённой группы
	// (default: 5m).
	Retention time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 5 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		locks:     store.NewLockRegistry(),
		retention: retention,
		logger:    logger,
		latest:    make(map[string]domain.ProgressRecord),
		durations: make(map[string][]time.Duration),
		groups:    make(map[string]*domain.ParallelGroup),
		cleanups:  make(map[string]*time.Timer),
		byGroup:   make(map[string]*observerSet[Observer]),
		bySession: make(map[string]*observerSet[Observer]),
	}
}

// RegisterGroup ставит группу под наблюдение координатора.
func (c *Coordinator) RegisterGroup(group *domain.ParallelGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[group.ID] = group
}

// Group возвращает зарегистрированную группу.
func (c *Coordinator) Group(groupID string) (*domain.ParallelGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.groups[groupID]
	if !ok {
		return nil, domain.NewStateError("GROUP_NOT_FOUND",
			fmt.Sprintf("parallel group %q is not registered", groupID),
			"check the group id",
		).WithContext("group_id", groupID)
	}
	return group, nil
}

// FinalizeGroup переводит группу в финальный статус после синтеза.
// Переход проверяется таблицей переходов группы.
func (c *Coordinator) FinalizeGroup(groupID string, status domain.GroupStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.groups[groupID]
	if !ok {
		return domain.NewStateError("GROUP_NOT_FOUND",
			fmt.Sprintf("parallel group %q is not registered", groupID),
			"check the group id",
		).WithContext("group_id", groupID)
	}
	return group.Transition(status)
}

// ReportProgress применяет отчёт о прогрессе.
//
// Отчёты по одной сессии применяются строго последовательно: новый
// отчёт ждёт завершения предыдущего по тому же ключу. После записи
// отчёт рассылается глобальным, групповым и сессионным подписчикам.
func (c *Coordinator) ReportProgress(ctx context.Context, rec domain.ProgressRecord) error {
	if rec.SessionID == "" {
		return domain.NewValidationError("MISSING_PARAMETER",
			"progress report requires a session id",
			"set session_id on the report",
		)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	return c.locks.WithLock(ctx, rec.SessionID, func() error {
		c.apply(rec)
		return nil
	})
}

// apply записывает отчёт и рассылает его подписчикам.
func (c *Coordinator) apply(rec domain.ProgressRecord) {
	c.mu.Lock()

	prev, seen := c.latest[rec.SessionID]
	if seen && rec.CurrentStep > prev.CurrentStep {
		if d := rec.Timestamp.Sub(prev.Timestamp); d > 0 {
			window := append(c.durations[rec.SessionID], d)
			if len(window) > stepDurationWindow {
				window = window[len(window)-stepDurationWindow:]
			}
			c.durations[rec.SessionID] = window
		}
	}
	c.latest[rec.SessionID] = rec

	observers := c.global.snapshot()
	if set := c.byGroup[rec.GroupID]; rec.GroupID != "" && set != nil {
		observers = append(observers, set.snapshot()...)
	}
	if set := c.bySession[rec.SessionID]; set != nil {
		observers = append(observers, set.snapshot()...)
	}

	completionEv, completionObs := c.recordGroupOutcome(rec)

	c.mu.Unlock()

	for _, obs := range observers {
		obs.OnProgress(rec)
	}
	if completionEv != nil {
		for _, obs := range completionObs {
			obs.OnGroupCompleted(*completionEv)
		}
	}
}

// recordGroupOutcome обновляет счётчики группы и детектирует её
// завершение. Вызывается под c.mu; событие возвращается наружу
// и рассылается уже без мьютекса.
func (c *Coordinator) recordGroupOutcome(rec domain.ProgressRecord) (*GroupCompletion, []CompletionObserver) {
	group, ok := c.groups[rec.GroupID]
	if !ok {
		return nil, nil
	}

	switch rec.Status {
	case domain.ProgressCompleted:
		group.MarkCompleted(rec.SessionID)
	case domain.ProgressFailed:
		group.MarkFailed(rec.SessionID)
	default:
		return nil, nil
	}

	// Событие завершения испускается ровно один раз: только при
	// переходе из ACTIVE.
	if !group.IsFinished() || group.Status != domain.GroupStatusActive {
		return nil, nil
	}

	next := domain.GroupStatusConverging
	if len(group.Completed) == 0 {
		next = domain.GroupStatusFailed
	}
	if err := group.Transition(next); err != nil {
		c.logger.Warn("group transition rejected", "group_id", group.ID, "error", err)
		return nil, nil
	}

	ev := &GroupCompletion{
		GroupID:    group.ID,
		Success:    len(group.Failed) == 0,
		Completed:  setToSlice(group.Completed),
		Failed:     setToSlice(group.Failed),
		FinishedAt: rec.Timestamp,
	}

	c.scheduleCleanup(group)

	c.logger.Info("parallel group finished",
		"group_id", group.ID,
		"success", ev.Success,
		"completed", len(ev.Completed),
		"failed", len(ev.Failed),
	)

	return ev, c.completion.snapshot()
}

// scheduleCleanup ставит таймер отложенной очистки данных группы.
// Вызывается под c.mu.
func (c *Coordinator) scheduleCleanup(group *domain.ParallelGroup) {
	if c.stopped {
		return
	}
	if prev, ok := c.cleanups[group.ID]; ok {
		prev.Stop()
	}
	c.cleanups[group.ID] = time.AfterFunc(c.retention, func() {
		c.cleanupGroup(group.ID)
	})
}

// cleanupGroup убирает данные группы по истечении retention.
func (c *Coordinator) cleanupGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.groups[groupID]
	if !ok {
		return
	}
	for _, sessionID := range group.SessionIDs {
		delete(c.latest, sessionID)
		delete(c.durations, sessionID)
		delete(c.bySession, sessionID)
	}
	delete(c.groups, groupID)
	delete(c.byGroup, groupID)
	delete(c.cleanups, groupID)

	c.logger.Debug("group records cleaned up", "group_id", groupID)
}

// Latest возвращает последний отчёт сессии.
func (c *Coordinator) Latest(sessionID string) (domain.ProgressRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.latest[sessionID]
	return rec, ok
}

// AverageStepDuration возвращает среднюю длительность шага сессии
// по скользящему окну. Второе значение false, пока окно пусто.
func (c *Coordinator) AverageStepDuration(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.durations[sessionID]
	if len(window) == 0 {
		return 0, false
	}

	var total time.Duration
	for _, d := range window {
		total += d
	}
	return total / time.Duration(len(window)), true
}

// GroupProgress собирает сводный прогресс группы.
//
// Общий прогресс — сумма зачётных шагов, делённая на сумму всех шагов
// (завершённая сессия засчитывает полный total). Оценка оставшегося
// времени не определена, пока прогресс нулевой.
func (c *Coordinator) GroupProgress(groupID string) (*domain.GroupProgress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.groups[groupID]
	if !ok {
		return nil, domain.NewStateError("GROUP_NOT_FOUND",
			fmt.Sprintf("parallel group %q is not registered", groupID),
			"check the group id",
		).WithContext("group_id", groupID)
	}

	gp := &domain.GroupProgress{
		GroupID:      groupID,
		Sessions:     make(map[string]domain.ProgressRecord, len(group.SessionIDs)),
		StatusCounts: make(map[domain.ProgressStatus]int),
	}

	var effective, total int
	for _, sessionID := range group.SessionIDs {
		rec, seen := c.latest[sessionID]
		if !seen {
			continue
		}
		gp.Sessions[sessionID] = rec
		gp.StatusCounts[rec.Status]++
		effective += rec.EffectiveSteps()
		total += rec.TotalSteps
	}

	if total > 0 {
		gp.Overall = float64(effective) / float64(total)
	}
	if gp.Overall > 0 {
		elapsed := time.Since(group.Metadata.StartedAt)
		remaining := time.Duration(float64(elapsed)/gp.Overall) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		gp.EstimatedRemaining = &remaining
	}

	return gp, nil
}

// CheckForDeadlock сообщает, застряла ли группа: каждая незавершённая
// сессия ждёт зависимость и ни одна не выполняется. Это совещательный
// сигнал, отличный от жёсткого таймаута: вызывающая сторона сама
// решает, что делать.
func (c *Coordinator) CheckForDeadlock(groupID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, ok := c.groups[groupID]
	if !ok {
		return false, domain.NewStateError("GROUP_NOT_FOUND",
			fmt.Sprintf("parallel group %q is not registered", groupID),
			"check the group id",
		).WithContext("group_id", groupID)
	}

	waiting := 0
	for _, sessionID := range group.SessionIDs {
		rec, seen := c.latest[sessionID]
		if !seen {
			// Сессия ещё не отчитывалась — группа не застряла.
			return false, nil
		}
		switch rec.Status {
		case domain.ProgressCompleted:
			continue
		case domain.ProgressWaiting:
			waiting++
		default:
			// started / in_progress / failed — движение есть.
			return false, nil
		}
	}

	return waiting > 0, nil
}

// Subscribe подписывает наблюдателя на все отчёты.
func (c *Coordinator) Subscribe(obs Observer) UnsubscribeFunc {
	c.mu.Lock()
	id := c.global.add(obs)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.global.remove(id)
		})
	}
}

// SubscribeGroup подписывает наблюдателя на отчёты сессий группы.
func (c *Coordinator) SubscribeGroup(groupID string, obs Observer) UnsubscribeFunc {
	c.mu.Lock()
	set := c.byGroup[groupID]
	if set == nil {
		set = &observerSet[Observer]{}
		c.byGroup[groupID] = set
	}
	id := set.add(obs)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if set := c.byGroup[groupID]; set != nil {
				set.remove(id)
			}
		})
	}
}

// SubscribeSession подписывает наблюдателя на отчёты одной сессии.
func (c *Coordinator) SubscribeSession(sessionID string, obs Observer) UnsubscribeFunc {
	c.mu.Lock()
	set := c.bySession[sessionID]
	if set == nil {
		set = &observerSet[Observer]{}
		c.bySession[sessionID] = set
	}
	id := set.add(obs)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if set := c.bySession[sessionID]; set != nil {
				set.remove(id)
			}
		})
	}
}

// SubscribeCompletion подписывает наблюдателя на завершение групп.
func (c *Coordinator) SubscribeCompletion(obs CompletionObserver) UnsubscribeFunc {
	c.mu.Lock()
	id := c.completion.add(obs)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.completion.remove(id)
		})
	}
}

// Stop отменяет все таймеры отложенной очистки и выгоняет ожидающих
// из очередей сериализации. После Stop координатор не используется.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	for groupID, timer := range c.cleanups {
		timer.Stop()
		delete(c.cleanups, groupID)
	}
	c.mu.Unlock()

	c.locks.ClearAll()
}

// setToSlice возвращает ключи множества.
func setToSlice(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
