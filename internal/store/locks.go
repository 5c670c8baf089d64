package store

import (
	"context"
	"sync"
)

// ReleaseFunc освобождает захваченную блокировку.
// Повторные вызовы безопасны (no-op).
type ReleaseFunc func()

// lockState — состояние блокировки одного идентификатора.
type lockState struct {
	// held — блокировка захвачена.
	held bool

	// queue — ожидающие в порядке захвата (FIFO).
	// Закрытие канала вручает блокировку ожидающему.
	queue []chan struct{}
}

// LockRegistry — реестр per-id блокировок с FIFO-очередью ожидающих.
//
// Acquire возвращает release-хэндл; новый претендент ждёт завершения
// текущего держателя и обслуживается в порядке обращения.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewLockRegistry создаёт пустой реестр блокировок.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		locks: make(map[string]*lockState),
	}
}

// Acquire захватывает блокировку id.
//
// Если блокировка свободна — захват немедленный. Иначе вызывающий
// встаёт в FIFO-очередь и ждёт вручения либо отмены контекста.
func (r *LockRegistry) Acquire(ctx context.Context, id string) (ReleaseFunc, error) {
	r.mu.Lock()

	st := r.locks[id]
	if st == nil {
		st = &lockState{}
		r.locks[id] = st
	}

	if !st.held {
		st.held = true
		r.mu.Unlock()
		return r.releaseFunc(id), nil
	}

	grant := make(chan struct{})
	st.queue = append(st.queue, grant)
	r.mu.Unlock()

	select {
	case <-grant:
		return r.releaseFunc(id), nil

	case <-ctx.Done():
		r.mu.Lock()
		// Если grant ещё в очереди — убираем. Если уже вручён
		// (гонка с release) — передаём блокировку дальше.
		if st, ok := r.locks[id]; ok {
			for i, w := range st.queue {
				if w == grant {
					st.queue = append(st.queue[:i], st.queue[i+1:]...)
					r.mu.Unlock()
					return nil, ctx.Err()
				}
			}
		}
		r.mu.Unlock()

		select {
		case <-grant:
			// Блокировка была вручена до отмены — освобождаем.
			r.releaseFunc(id)()
		default:
		}
		return nil, ctx.Err()
	}
}

// releaseFunc строит идемпотентный release-хэндл для id.
func (r *LockRegistry) releaseFunc(id string) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			st, ok := r.locks[id]
			if !ok || !st.held {
				return
			}

			if len(st.queue) > 0 {
				// Вручаем следующему: held остаётся true.
				next := st.queue[0]
				st.queue = st.queue[1:]
				close(next)
				return
			}

			delete(r.locks, id)
		})
	}
}

// WithLock выполняет fn под блокировкой id.
// Release гарантирован на любом пути выхода, включая panic в fn.
func (r *LockRegistry) WithLock(ctx context.Context, id string, fn func() error) error {
	release, err := r.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// TryAcquire захватывает блокировку только если она свободна.
// Используется best-effort операциями (touch из фонового cleanup),
// которым нельзя блокироваться.
func (r *LockRegistry) TryAcquire(id string) (ReleaseFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.locks[id]
	if st == nil {
		r.locks[id] = &lockState{held: true}
		return r.releaseFunc(id), true
	}
	if st.held {
		return nil, false
	}
	st.held = true
	return r.releaseFunc(id), true
}

// IsLocked сообщает, захвачена ли блокировка id. Только для диагностики.
func (r *LockRegistry) IsLocked(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.locks[id]
	return ok && st.held
}

// ActiveLockCount возвращает число захваченных блокировок. Диагностика.
func (r *LockRegistry) ActiveLockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, st := range r.locks {
		if st.held {
			count++
		}
	}
	return count
}

// ClearAll принудительно освобождает все блокировки и выгоняет всех
// ожидающих, не дожидаясь их тел. Только для shutdown и тестов:
// вне teardown нарушает взаимное исключение.
func (r *LockRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, st := range r.locks {
		for _, w := range st.queue {
			close(w)
		}
		st.queue = nil
		delete(r.locks, id)
	}
}
