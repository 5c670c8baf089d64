package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/converge"
	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/planner"
	"github.com/shaiso/Techne/internal/progress"
	"github.com/shaiso/Techne/internal/recovery"
	"github.com/shaiso/Techne/internal/registry"
	"github.com/shaiso/Techne/internal/store"
	"github.com/shaiso/Techne/internal/syncer"
	"github.com/shaiso/Techne/internal/timeout"
)

// SnapshotSaver — внешний коллаборатор персистентности.
// Движок сохраняет снапшот сессии после каждой мутации best-effort
// через Retryer; отсутствие коллаборатора отключает сохранение.
type SnapshotSaver interface {
	Save(ctx context.Context, s *domain.Session) error
}

// Engine — корень композиции: владеет всеми компонентами движка
// и выставляет фасадные операции Plan и Step.
type Engine struct {
	settings config.Config
	logger   *slog.Logger

	sessions    *store.Store
	locks       *store.LockRegistry
	registry    *registry.Registry
	planner     *planner.Planner
	coordinator *progress.Coordinator
	monitor     *timeout.Monitor
	syncer      *syncer.Synchronizer
	converger   *converge.Engine
	retryer     *recovery.Retryer
	partial     *recovery.Handler
	janitor     *store.Janitor
	snapshots   SnapshotSaver

	mu          sync.RWMutex
	plans       map[string]*planRecord
	attempts    map[string]int
	resolutions map[string]*recovery.Resolution

	unsubs []progress.UnsubscribeFunc
}

// Config — конфигурация Engine.
type Config struct {
	// Settings — настройки компонентов (нулевые поля заменяются
	// значениями по умолчанию внутри каждого компонента).
	Settings config.Config

	// Registry — реестр техник (опционально; если nil — встроенный каталог).
	Registry *registry.Registry

	// Snapshots — коллаборатор персистентности (опционально).
	Snapshots SnapshotSaver

	// Logger — логгер.
	Logger *slog.Logger
}

// planRecord — состояние одного сгенерированного плана.
type planRecord struct {
	id          string
	mode        domain.ExecutionMode
	plans       []*domain.Plan
	groups      []*domain.ParallelGroup
	order       []string
	graph       *domain.ExecutionGraph
	convergence domain.ConvergenceOptions
	createdAt   time.Time
}

// New собирает полный граф компонентов в порядке зависимостей и
// связывает их при конструировании.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}

	locks := store.NewLockRegistry()
	sessions := store.New(store.Config{
		MaxSessions:      cfg.Settings.MaxSessions,
		TTL:              cfg.Settings.SessionTTL,
		MemoryMonitor:    cfg.Settings.MemoryMonitor,
		MemoryLimitRatio: cfg.Settings.MemoryLimitRatio,
		Locks:            locks,
		Logger:           logger,
	})

	pl := planner.New(planner.Config{
		Registry:    reg,
		MaxParallel: cfg.Settings.MaxParallel,
		Logger:      logger,
	})

	coordinator := progress.NewCoordinator(progress.Config{
		Logger: logger,
	})

	monitor := timeout.NewMonitor(timeout.Config{
		ExecutionTimeout:   cfg.Settings.ExecutionTimeout,
		DependencyTimeout:  cfg.Settings.DependencyTimeout,
		StalenessThreshold: cfg.Settings.StalenessThreshold,
		Reporter:           coordinator,
		Logger:             logger,
	})

	synchronizer := syncer.New(syncer.Config{
		BatchWindow:  cfg.Settings.BatchWindow,
		BatchMaxSize: cfg.Settings.BatchMaxSize,
		Logger:       logger,
	})

	converger := converge.New(converge.Config{
		ConflictRate: cfg.Settings.ConflictRate,
		Logger:       logger,
	})

	retryer := recovery.NewRetryer(recovery.RetryerConfig{
		BaseDelay:   cfg.Settings.RetryBaseDelay,
		MaxDelay:    cfg.Settings.RetryMaxDelay,
		MaxAttempts: cfg.Settings.RetryMaxAttempts,
		Logger:      logger,
	})

	partial := recovery.NewHandler(recovery.HandlerConfig{
		CriticalThreshold: cfg.Settings.CriticalDependentThreshold,
		MaxAttempts:       cfg.Settings.RetryMaxAttempts,
		Logger:            logger,
	})

	e := &Engine{
		settings:    cfg.Settings,
		logger:      logger,
		sessions:    sessions,
		locks:       locks,
		registry:    reg,
		planner:     pl,
		coordinator: coordinator,
		monitor:     monitor,
		syncer:      synchronizer,
		converger:   converger,
		retryer:     retryer,
		partial:     partial,
		snapshots:   cfg.Snapshots,
		plans:       make(map[string]*planRecord),
		attempts:    make(map[string]int),
		resolutions: make(map[string]*recovery.Resolution),
	}

	janitor, err := store.NewJanitor(store.JanitorConfig{
		Store:     sessions,
		Interval:  cfg.Settings.CleanupInterval,
		CronExpr:  cfg.Settings.CleanupCron,
		KeepAlive: e.activeGroupSessions,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	e.janitor = janitor

	// Связи между компонентами фиксируются здесь, а не лениво:
	// монитор получает каждый отчёт координатора, завершение группы
	// с падениями запускает обработчик частичного завершения.
	e.unsubs = append(e.unsubs,
		coordinator.Subscribe(monitor),
		coordinator.SubscribeCompletion(progress.CompletionObserverFunc(e.onGroupCompleted)),
	)

	return e, nil
}

// Start запускает фоновые циклы движка.
func (e *Engine) Start(ctx context.Context) {
	e.janitor.Start(ctx)
	e.monitor.Start(ctx)
	e.logger.Info("engine started",
		"max_sessions", e.settings.MaxSessions,
		"max_parallel", e.settings.MaxParallel,
	)
}

// Shutdown гасит движок: сначала фоновые циклы и таймеры, затем
// накопленное состояние и блокировки.
func (e *Engine) Shutdown() {
	e.monitor.Stop()
	e.janitor.Stop()

	for _, unsub := range e.unsubs {
		unsub()
	}

	e.coordinator.Stop()
	e.syncer.Stop()
	e.locks.ClearAll()

	e.logger.Info("engine stopped")
}

// Sessions возвращает реестр сессий.
func (e *Engine) Sessions() *store.Store { return e.sessions }

// SessionSnapshot возвращает копию сессии, снятую под её блокировкой.
// Читающие операции API работают по таким копиям, а не по живым
// указателям реестра.
func (e *Engine) SessionSnapshot(ctx context.Context, id string) (*domain.Session, error) {
	return e.snapshotOf(ctx, id)
}

// Coordinator возвращает координатор прогресса (подписки, запросы).
func (e *Engine) Coordinator() *progress.Coordinator { return e.coordinator }

// Monitor возвращает монитор таймаутов.
func (e *Engine) Monitor() *timeout.Monitor { return e.monitor }

// Syncer возвращает синхронизатор общих контекстов.
func (e *Engine) Syncer() *syncer.Synchronizer { return e.syncer }

// DeleteSession снимает сессию с наблюдения и удаляет её вместе
// со счётчиком попыток.
func (e *Engine) DeleteSession(id string) {
	e.monitor.Unwatch(id)
	e.sessions.Delete(id)
	e.mu.Lock()
	delete(e.attempts, id)
	e.mu.Unlock()
}

// Resolution возвращает решение обработчика частичного завершения
// для группы, если группа завершалась с падениями.
func (e *Engine) Resolution(groupID string) (*recovery.Resolution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.resolutions[groupID]
	return res, ok
}

// onGroupCompleted обрабатывает завершение параллельной группы:
// при наличии падений выбирает ровно одну стратегию восстановления.
func (e *Engine) onGroupCompleted(ev progress.GroupCompletion) {
	for _, id := range append(append([]string(nil), ev.Completed...), ev.Failed...) {
		e.monitor.Unwatch(id)
	}

	if ev.Success {
		e.logger.Info("group completed",
			"group_id", ev.GroupID,
			"sessions", len(ev.Completed),
		)
		return
	}

	members := e.groupMembers(ev.GroupID)
	if len(members) == 0 {
		return
	}

	resolution, err := e.partial.Resolve(ev.GroupID, members)
	if err != nil {
		e.logger.Error("partial completion resolution failed",
			"group_id", ev.GroupID,
			"error", err,
		)
		return
	}

	e.mu.Lock()
	e.resolutions[ev.GroupID] = resolution
	e.mu.Unlock()

	e.logger.Warn("group completed with failures",
		"group_id", ev.GroupID,
		"strategy", resolution.Strategy,
		"missing", resolution.MissingTechniques,
	)
}

// groupMembers собирает участников группы глазами обработчика
// частичного завершения: статусы из store, зависимые — обращением
// рёбер DependsOn внутри группы.
func (e *Engine) groupMembers(groupID string) []recovery.Member {
	group, err := e.coordinator.Group(groupID)
	if err != nil {
		return nil
	}

	dependents := make(map[string][]string)
	members := make([]recovery.Member, 0, len(group.SessionIDs))

	for _, id := range group.SessionIDs {
		session, err := e.snapshotOf(context.Background(), id)
		if err != nil {
			continue
		}
		for _, dep := range session.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}

		e.mu.RLock()
		attempts := e.attempts[id]
		e.mu.RUnlock()

		members = append(members, recovery.Member{
			SessionID: id,
			Technique: session.Technique,
			Status:    session.Status,
			Attempts:  attempts,
		})
	}

	for i := range members {
		members[i].Dependents = dependents[members[i].SessionID]
	}
	return members
}

// activeGroupSessions возвращает сессии незавершённых групп:
// janitor касается их при каждом проходе, чтобы живые группы
// не эвиктились по TTL из-под координатора.
func (e *Engine) activeGroupSessions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var ids []string
	for _, rec := range e.plans {
		for _, group := range rec.groups {
			if group.Status.IsTerminal() {
				continue
			}
			ids = append(ids, group.SessionIDs...)
		}
	}
	return ids
}

// snapshotOf возвращает копию сессии, снятую под её блокировкой.
func (e *Engine) snapshotOf(ctx context.Context, id string) (*domain.Session, error) {
	var snap *domain.Session
	err := e.sessions.Update(ctx, id, func(s *domain.Session) error {
		snap = s.Clone()
		return nil
	})
	return snap, err
}

// saveSnapshot сохраняет снапшот сессии через Retryer, если
// настроен коллаборатор персистентности. Ошибки не прерывают
// операцию: персистентность — best-effort.
func (e *Engine) saveSnapshot(ctx context.Context, session *domain.Session) {
	if e.snapshots == nil {
		return
	}
	err := e.retryer.Do(ctx, "save snapshot", func() error {
		return e.snapshots.Save(ctx, session)
	})
	if err != nil {
		e.logger.Warn("snapshot save failed",
			"session_id", session.ID,
			"error", err,
		)
	}
}
