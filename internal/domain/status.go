package domain

// SessionStatus — статус выполнения сессии.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	        ↘ WAITING ↗        ↘ FAILED
//	(WAITING ⇄ RUNNING; FAILED из RUNNING или WAITING)
type SessionStatus string

const (
	// SessionStatusPending — сессия создана, но ещё не начала выполняться.
	SessionStatusPending SessionStatus = "pending"

	// SessionStatusRunning — сессия активно выполняет шаги.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusWaiting — сессия ожидает завершения жёстких зависимостей.
	SessionStatusWaiting SessionStatus = "waiting"

	// SessionStatusCompleted — сессия успешно завершена.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed — сессия завершилась с ошибкой (включая таймаут).
	SessionStatusFailed SessionStatus = "failed"
)

// sessionTransitions — полная таблица допустимых переходов.
//
// Сессия, одновременно ожидающая зависимость и превысившая execution
// timeout, переходит в FAILED: WAITING → FAILED разрешён явно, чтобы
// результат не зависел от порядка вызовов.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:   {SessionStatusRunning, SessionStatusWaiting, SessionStatusFailed},
	SessionStatusRunning:   {SessionStatusWaiting, SessionStatusCompleted, SessionStatusFailed},
	SessionStatusWaiting:   {SessionStatusRunning, SessionStatusFailed},
	SessionStatusCompleted: {},
	SessionStatusFailed:    {},
}

// CanTransition проверяет, допустим ли переход в статус next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если статус финальный.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// GroupStatus — статус параллельной группы.
//
// Переходы только вперёд:
//
//	ACTIVE → CONVERGING → COMPLETED | FAILED | PARTIAL_SUCCESS
//	ACTIVE → FAILED (все сессии упали до конвергенции)
type GroupStatus string

const (
	// GroupStatusActive — сессии группы выполняются.
	GroupStatusActive GroupStatus = "active"

	// GroupStatusConverging — все сессии завершены, идёт синтез результатов.
	GroupStatusConverging GroupStatus = "converging"

	// GroupStatusCompleted — группа успешно завершена.
	GroupStatusCompleted GroupStatus = "completed"

	// GroupStatusFailed — группа завершилась без пригодных результатов.
	GroupStatusFailed GroupStatus = "failed"

	// GroupStatusPartialSuccess — группа завершена частично
	// (часть сессий упала, но результат синтезирован).
	GroupStatusPartialSuccess GroupStatus = "partial_success"
)

// groupTransitions — таблица допустимых переходов группы.
var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupStatusActive:         {GroupStatusConverging, GroupStatusFailed},
	GroupStatusConverging:     {GroupStatusCompleted, GroupStatusFailed, GroupStatusPartialSuccess},
	GroupStatusCompleted:      {},
	GroupStatusFailed:         {},
	GroupStatusPartialSuccess: {},
}

// CanTransition проверяет, допустим ли переход группы в статус next.
func (s GroupStatus) CanTransition(next GroupStatus) bool {
	for _, allowed := range groupTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если статус группы финальный.
func (s GroupStatus) IsTerminal() bool {
	switch s {
	case GroupStatusCompleted, GroupStatusFailed, GroupStatusPartialSuccess:
		return true
	default:
		return false
	}
}

// ProgressStatus — статус в отчёте о прогрессе.
//
// Отдельный от SessionStatus тип: отчёты приходят от внешнего
// исполнителя шагов и не обязаны совпадать с внутренним FSM
// (started/in_progress сворачиваются в RUNNING).
type ProgressStatus string

const (
	ProgressStarted    ProgressStatus = "started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
	ProgressWaiting    ProgressStatus = "waiting"
)

// SessionStatus конвертирует статус отчёта в статус сессии.
func (p ProgressStatus) SessionStatus() SessionStatus {
	switch p {
	case ProgressStarted, ProgressInProgress:
		return SessionStatusRunning
	case ProgressCompleted:
		return SessionStatusCompleted
	case ProgressFailed:
		return SessionStatusFailed
	case ProgressWaiting:
		return SessionStatusWaiting
	default:
		return SessionStatusPending
	}
}

// ExecutionMode — режим выполнения плана.
type ExecutionMode string

const (
	// ModeSequential — техники выполняются последовательно.
	ModeSequential ExecutionMode = "sequential"

	// ModeParallel — техники разбиваются на параллельные группы.
	ModeParallel ExecutionMode = "parallel"
)
