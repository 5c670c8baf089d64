package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
)

// Store — реестр сессий в памяти.
//
// Прямые операции (Get/Delete) работают по карте под RWMutex;
// мутации (Update/Touch) дополнительно проходят через per-id
// блокировку LockRegistry, чтобы сериализовать конкурентные шаги
// одной сессии.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session

	locks *LockRegistry

	maxSessions      int
	ttl              time.Duration
	memoryMonitor    bool
	memoryLimitRatio float64

	logger *slog.Logger
}

// Config — конфигурация Store.
type Config struct {
	// MaxSessions — максимум сессий (default: config.DefaultMaxSessions).
	MaxSessions int

	// TTL — время жизни сессии без активности (default: config.DefaultSessionTTL).
	TTL time.Duration

	// MemoryMonitor — учитывать heap ratio в политике давления.
	MemoryMonitor bool

	// MemoryLimitRatio — порог heap ratio (default: config.DefaultMemoryLimitRatio).
	MemoryLimitRatio float64

	// Locks — реестр блокировок (опционально; если nil — создаётся новый).
	Locks *LockRegistry

	// Logger — логгер.
	Logger *slog.Logger
}

// New создаёт новый Store.
func New(cfg Config) *Store {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.DefaultMaxSessions
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}

	ratio := cfg.MemoryLimitRatio
	if ratio <= 0 || ratio > 1 {
		ratio = config.DefaultMemoryLimitRatio
	}

	locks := cfg.Locks
	if locks == nil {
		locks = NewLockRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		sessions:         make(map[string]*domain.Session),
		locks:            locks,
		maxSessions:      maxSessions,
		ttl:              ttl,
		memoryMonitor:    cfg.MemoryMonitor,
		memoryLimitRatio: ratio,
		logger:           logger,
	}
}

// Locks возвращает реестр блокировок Store.
func (s *Store) Locks() *LockRegistry {
	return s.locks
}

// Create создаёт сессию. Если id пуст — генерируется.
//
// Перед отказом по ёмкости выполняется эвикция истёкших сессий;
// если место не освободилось — resource-exhausted ошибка.
func (s *Store) Create(technique, problem, id string) (*domain.Session, error) {
	if id == "" {
		id = domain.NewSessionID()
	} else if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, domain.NewStateError("SESSION_EXISTS",
			fmt.Sprintf("session %q already exists", id),
			"use a different id or omit it to auto-generate",
		).WithContext("session_id", id)
	}

	if len(s.sessions) >= s.maxSessions {
		evicted := s.evictExpiredLocked(time.Now())
		if len(evicted) > 0 {
			s.logger.Debug("evicted expired sessions before create", "count", len(evicted))
		}
	}

	if len(s.sessions) >= s.maxSessions {
		err := domain.NewSystemError("SESSION_LIMIT",
			fmt.Sprintf("session limit reached (%d)", s.maxSessions), nil)
		err.Recovery = []string{
			"wait for sessions to expire",
			"delete finished sessions explicitly",
		}
		err.RetryAfter = s.ttl / 10
		return nil, err
	}

	session := domain.NewSession(id, technique, problem)
	s.sessions[id] = session

	return session, nil
}

// Get возвращает сессию по id.
func (s *Store) Get(id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.NewStateError("SESSION_NOT_FOUND",
			fmt.Sprintf("session %q not found or expired", id),
			"check the session id",
			"the session may have been evicted by TTL",
		).WithContext("session_id", id)
	}
	return session, nil
}

// Delete удаляет сессию. Отсутствующая сессия — не ошибка.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Update выполняет fn над сессией под её блокировкой.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Session) error) error {
	return s.locks.WithLock(ctx, id, func() error {
		session, err := s.Get(id)
		if err != nil {
			return err
		}
		return fn(session)
	})
}

// Touch обновляет время активности сессии best-effort: если блокировка
// занята, вызов молча пропускается — фоновому cleanup нельзя
// блокироваться на горячей сессии.
func (s *Store) Touch(id string) {
	release, ok := s.locks.TryAcquire(id)
	if !ok {
		return
	}
	defer release()

	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()

	if exists {
		session.Touch()
	}
}

// Count возвращает число живых сессий.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List возвращает все сессии (копия среза, отсортирована по id).
func (s *Store) List() []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cleanup эвиктит сессии, чья последняя активность старше TTL
// относительно now. Возвращает id эвиктнутых сессий.
// Идемпотентен: повторный вызов с тем же now ничего не находит.
func (s *Store) Cleanup(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := s.evictExpiredLocked(now)
	if len(evicted) > 0 {
		s.logger.Info("sessions evicted by TTL", "count", len(evicted))
	}
	return evicted
}

// evictExpiredLocked удаляет истёкшие сессии и возвращает их id.
// Вызывается строго под s.mu.
func (s *Store) evictExpiredLocked(now time.Time) []string {
	var evicted []string
	for id, session := range s.sessions {
		if session.IsExpired(now, s.ttl) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// UnderPressure сообщает, действует ли давление по ресурсам:
// по числу живых сессий всегда, по heap ratio — если включён
// MemoryMonitor. Под давлением движок деградирует параллельные
// запросы в последовательные.
func (s *Store) UnderPressure() bool {
	s.mu.RLock()
	count := len(s.sessions)
	s.mu.RUnlock()

	if float64(count) >= float64(s.maxSessions)*s.memoryLimitRatio {
		return true
	}

	if s.memoryMonitor {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapSys > 0 && float64(ms.HeapAlloc)/float64(ms.HeapSys) >= s.memoryLimitRatio {
			return true
		}
	}

	return false
}
