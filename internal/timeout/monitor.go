package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
)

// warningRatio — доля бюджета, после которой испускается раннее
// предупреждение.
const warningRatio = 0.8

// EventKind — вид события монитора.
type EventKind string

const (
	// EventExecutionTimeout — бюджет выполнения исчерпан; сессия
	// переведена в failed и снята с наблюдения.
	EventExecutionTimeout EventKind = "execution_timeout"

	// EventDependencyTimeout — ожидание зависимостей превысило бюджет.
	// Совещательный сигнал: сессия остаётся под наблюдением.
	EventDependencyTimeout EventKind = "dependency_timeout"

	// EventTimeoutWarning — израсходовано 80% бюджета выполнения.
	EventTimeoutWarning EventKind = "timeout_warning"

	// EventProgressStale — прогресс не обновлялся дольше порога.
	EventProgressStale EventKind = "progress_stale"
)

// Event — событие монитора таймаутов.
type Event struct {
	// Kind — вид события.
	Kind EventKind `json:"kind"`

	// SessionID — сессия, к которой относится событие.
	SessionID string `json:"session_id"`

	// Elapsed — время, прошедшее с начала наблюдения (для stale —
	// с последнего отчёта).
	Elapsed time.Duration `json:"elapsed"`

	// Threshold — порог, вызвавший событие.
	Threshold time.Duration `json:"threshold"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`
}

// Observer — подписчик на события монитора.
type Observer interface {
	OnTimeoutEvent(ev Event)
}

// ObserverFunc адаптирует функцию к интерфейсу Observer.
type ObserverFunc func(ev Event)

// OnTimeoutEvent реализует Observer.
func (f ObserverFunc) OnTimeoutEvent(ev Event) { f(ev) }

// ProgressReporter принимает синтезированные отчёты монитора.
// Реализуется progress.Coordinator.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, rec domain.ProgressRecord) error
}

// sessionState — состояние наблюдения одной сессии.
type sessionState struct {
	groupID     string
	currentStep int
	totalSteps  int

	startedAt    time.Time
	lastProgress time.Time
	lastStale    time.Time

	// budget — полный бюджет выполнения (растёт при ExtendTimeout).
	budget time.Duration

	// deadline — абсолютный дедлайн выполнения (пока не waiting).
	deadline time.Time

	// remaining — остаток бюджета, замороженный на время waiting.
	remaining time.Duration

	waiting bool
	warned  bool

	execTimer *time.Timer
	depTimer  *time.Timer
}

// Monitor — монитор таймаутов сессий.
//
// Реализует progress.Observer: движок подписывает монитор на отчёты
// координатора, и переходы waiting/terminal обрабатываются из них.
type Monitor struct {
	executionTimeout  time.Duration
	dependencyTimeout time.Duration
	staleness         time.Duration
	sweepInterval     time.Duration
	reporter          ProgressReporter
	logger            *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*sessionState
	observers []Observer
	stopped   bool

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Monitor.
type Config struct {
	// ExecutionTimeout — бюджет выполнения сессии (default: 5m).
	ExecutionTimeout time.Duration

	// DependencyTimeout — бюджет ожидания зависимостей (default: 2m).
	DependencyTimeout time.Duration

	// StalenessThreshold — порог устаревшего прогресса (default: 1m).
	StalenessThreshold time.Duration

	// SweepInterval — период грубого sweep'а (default: 1s).
	SweepInterval time.Duration

	// Reporter — приёмник синтезированных failed-отчётов.
	Reporter ProgressReporter

	// Logger — логгер.
	Logger *slog.Logger
}

// NewMonitor создаёт Monitor.
func NewMonitor(cfg Config) *Monitor {
	executionTimeout := cfg.ExecutionTimeout
	if executionTimeout <= 0 {
		executionTimeout = config.DefaultExecutionTimeout
	}
	dependencyTimeout := cfg.DependencyTimeout
	if dependencyTimeout <= 0 {
		dependencyTimeout = config.DefaultDependencyTimeout
	}
	staleness := cfg.StalenessThreshold
	if staleness <= 0 {
		staleness = config.DefaultStalenessThreshold
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		executionTimeout:  executionTimeout,
		dependencyTimeout: dependencyTimeout,
		staleness:         staleness,
		sweepInterval:     sweepInterval,
		reporter:          cfg.Reporter,
		logger:            logger,
		sessions:          make(map[string]*sessionState),
	}
}

// Subscribe подписывает наблюдателя на события монитора.
func (m *Monitor) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Start запускает фоновый sweep.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancelFunc = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.sweepLoop(ctx)

	m.logger.Info("timeout monitor started",
		"execution_timeout", m.executionTimeout,
		"dependency_timeout", m.dependencyTimeout,
		"staleness_threshold", m.staleness,
	)
}

// Stop останавливает sweep и отменяет все таймеры сессий.
func (m *Monitor) Stop() {
	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, st := range m.sessions {
		stopTimers(st)
		delete(m.sessions, id)
	}

	m.logger.Info("timeout monitor stopped")
}

// Watch ставит сессию под наблюдение и взводит таймер выполнения.
// Повторный Watch той же сессии перезапускает наблюдение.
func (m *Monitor) Watch(sessionID, groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if prev, ok := m.sessions[sessionID]; ok {
		stopTimers(prev)
	}

	now := time.Now()
	st := &sessionState{
		groupID:      groupID,
		startedAt:    now,
		lastProgress: now,
		budget:       m.executionTimeout,
		deadline:     now.Add(m.executionTimeout),
	}
	st.execTimer = time.AfterFunc(m.executionTimeout, func() {
		m.onExecutionTimeout(sessionID)
	})
	m.sessions[sessionID] = st
}

// Unwatch снимает сессию с наблюдения и отменяет её таймеры.
func (m *Monitor) Unwatch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.sessions[sessionID]; ok {
		stopTimers(st)
		delete(m.sessions, sessionID)
	}
}

// Watching сообщает, наблюдается ли сессия.
func (m *Monitor) Watching(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[sessionID]
	return ok
}

// ExtendTimeout добавляет extra к бюджету выполнения сессии.
// Уже израсходованное время не сбрасывается: перевзводится только
// остаток.
func (m *Monitor) ExtendTimeout(sessionID string, extra time.Duration) error {
	if extra <= 0 {
		return domain.NewValidationError("INVALID_EXTENSION",
			"timeout extension must be positive",
			"pass a positive duration",
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return domain.NewStateError("SESSION_NOT_MONITORED",
			fmt.Sprintf("session %q is not monitored", sessionID),
			"watch the session before extending its timeout",
		).WithContext("session_id", sessionID)
	}

	st.budget += extra
	if st.waiting {
		// Остаток заморожен: дедлайн пересчитается при возобновлении.
		st.remaining += extra
		return nil
	}

	st.deadline = st.deadline.Add(extra)
	if st.execTimer != nil {
		st.execTimer.Stop()
	}
	st.execTimer = time.AfterFunc(time.Until(st.deadline), func() {
		m.onExecutionTimeout(sessionID)
	})
	return nil
}

// OnProgress реализует progress.Observer: отчёты координатора двигают
// таймеры наблюдаемой сессии.
func (m *Monitor) OnProgress(rec domain.ProgressRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[rec.SessionID]
	if !ok {
		return
	}

	now := time.Now()
	st.lastProgress = now
	st.currentStep = rec.CurrentStep
	st.totalSteps = rec.TotalSteps
	if rec.GroupID != "" {
		st.groupID = rec.GroupID
	}

	switch rec.Status {
	case domain.ProgressWaiting:
		if st.waiting {
			return
		}
		// WAITING замораживает остаток бюджета и взводит таймер
		// ожидания зависимостей.
		st.waiting = true
		st.remaining = time.Until(st.deadline)
		if st.remaining < 0 {
			st.remaining = 0
		}
		if st.execTimer != nil {
			st.execTimer.Stop()
			st.execTimer = nil
		}
		sessionID := rec.SessionID
		st.depTimer = time.AfterFunc(m.dependencyTimeout, func() {
			m.onDependencyTimeout(sessionID)
		})

	case domain.ProgressCompleted, domain.ProgressFailed:
		stopTimers(st)
		delete(m.sessions, rec.SessionID)

	default:
		if !st.waiting {
			return
		}
		// Возобновление: остаток бюджета продолжает тикать.
		st.waiting = false
		if st.depTimer != nil {
			st.depTimer.Stop()
			st.depTimer = nil
		}
		st.deadline = now.Add(st.remaining)
		sessionID := rec.SessionID
		st.execTimer = time.AfterFunc(st.remaining, func() {
			m.onExecutionTimeout(sessionID)
		})
	}
}

// onExecutionTimeout — срабатывание таймера выполнения.
func (m *Monitor) onExecutionTimeout(sessionID string) {
	m.mu.Lock()

	st, ok := m.sessions[sessionID]
	if !ok || st.waiting {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(st.startedAt)
	budget := st.budget
	stopTimers(st)
	delete(m.sessions, sessionID)

	rec := domain.ProgressRecord{
		SessionID:   sessionID,
		GroupID:     st.groupID,
		Status:      domain.ProgressFailed,
		CurrentStep: st.currentStep,
		TotalSteps:  st.totalSteps,
		Timestamp:   now,
		Error: fmt.Sprintf("execution timeout after %dms (threshold %dms)",
			elapsed.Milliseconds(), budget.Milliseconds()),
	}

	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	if m.reporter != nil {
		if err := m.reporter.ReportProgress(context.Background(), rec); err != nil {
			m.logger.Warn("synthesized timeout report rejected",
				"session_id", sessionID, "error", err)
		}
	}

	ev := Event{
		Kind:      EventExecutionTimeout,
		SessionID: sessionID,
		Elapsed:   elapsed,
		Threshold: budget,
		Timestamp: now,
	}
	for _, obs := range observers {
		obs.OnTimeoutEvent(ev)
	}

	m.logger.Warn("session execution timed out",
		"session_id", sessionID, "elapsed", elapsed, "budget", budget)
}

// onDependencyTimeout — срабатывание таймера ожидания зависимостей.
func (m *Monitor) onDependencyTimeout(sessionID string) {
	m.mu.Lock()

	st, ok := m.sessions[sessionID]
	if !ok || !st.waiting {
		m.mu.Unlock()
		return
	}
	st.depTimer = nil

	now := time.Now()
	ev := Event{
		Kind:      EventDependencyTimeout,
		SessionID: sessionID,
		Elapsed:   now.Sub(st.lastProgress),
		Threshold: m.dependencyTimeout,
		Timestamp: now,
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, obs := range observers {
		obs.OnTimeoutEvent(ev)
	}

	m.logger.Warn("dependency wait timed out", "session_id", sessionID)
}

// sweepLoop — грубый периодический обход наблюдаемых сессий.
func (m *Monitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep испускает ранние предупреждения и сигналы устаревшего прогресса.
func (m *Monitor) sweep(now time.Time) {
	m.mu.Lock()

	var events []Event
	for sessionID, st := range m.sessions {
		if !st.waiting && !st.warned {
			elapsed := st.budget - time.Until(st.deadline)
			if float64(elapsed) >= float64(st.budget)*warningRatio {
				st.warned = true
				events = append(events, Event{
					Kind:      EventTimeoutWarning,
					SessionID: sessionID,
					Elapsed:   elapsed,
					Threshold: st.budget,
					Timestamp: now,
				})
			}
		}

		sinceProgress := now.Sub(st.lastProgress)
		if sinceProgress >= m.staleness && now.Sub(st.lastStale) >= m.staleness {
			st.lastStale = now
			events = append(events, Event{
				Kind:      EventProgressStale,
				SessionID: sessionID,
				Elapsed:   sinceProgress,
				Threshold: m.staleness,
				Timestamp: now,
			})
		}
	}

	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, ev := range events {
		for _, obs := range observers {
			obs.OnTimeoutEvent(ev)
		}
	}
}

// stopTimers отменяет таймеры состояния. Вызывается под m.mu.
func stopTimers(st *sessionState) {
	if st.execTimer != nil {
		st.execTimer.Stop()
		st.execTimer = nil
	}
	if st.depTimer != nil {
		st.depTimer.Stop()
		st.depTimer = nil
	}
}
