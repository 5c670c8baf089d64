package domain

import (
	"errors"
	"time"
)

// ErrorCategory — категория ошибки движка.
type ErrorCategory string

const (
	// CategoryWorkflow — нарушение порядка вызовов или несоответствие
	// техники/плана (не повторяется автоматически).
	CategoryWorkflow ErrorCategory = "workflow"

	// CategoryValidation — некорректный или отсутствующий параметр.
	CategoryValidation ErrorCategory = "validation"

	// CategoryState — сессия/план не найдены, истекли или в недопустимом состоянии.
	CategoryState ErrorCategory = "state"

	// CategorySystem — ошибки ввода-вывода, памяти, персистентности (retryable).
	CategorySystem ErrorCategory = "system"

	// CategoryConvergence — ошибки синтеза результатов параллельных сессий.
	CategoryConvergence ErrorCategory = "convergence"
)

// ErrorSeverity — серьёзность ошибки.
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// Error — структурированная ошибка движка.
//
// Каждая ошибка несёт стабильный код, категорию, флаг retryable и
// упорядоченный список шагов восстановления для вызывающей стороны.
// Внутренние типы ошибок не выходят за границу движка: всё
// неклассифицированное оборачивается в system-ошибку (WrapSystem).
type Error struct {
	// Code — стабильный машинный код (например, "SESSION_NOT_FOUND").
	Code string

	// Message — человекочитаемое описание.
	Message string

	// Category — категория из таксономии.
	Category ErrorCategory

	// Severity — серьёзность.
	Severity ErrorSeverity

	// Retryable — можно ли повторить операцию автоматически.
	Retryable bool

	// Recovery — упорядоченные шаги восстановления.
	Recovery []string

	// Context — структурированный контекст (id сессии, имена техник и т.п.).
	Context map[string]any

	// RetryAfter — рекомендуемая задержка перед повтором (0 — нет рекомендации).
	RetryAfter time.Duration

	// Err — обёрнутая базовая ошибка.
	Err error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext добавляет запись в структурированный контекст ошибки.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewValidationError создаёт ошибку валидации (не retryable).
func NewValidationError(code, message string, recovery ...string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: CategoryValidation,
		Severity: SeverityError,
		Recovery: recovery,
	}
}

// NewWorkflowError создаёт ошибку порядка вызовов (не retryable).
func NewWorkflowError(code, message string, recovery ...string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: CategoryWorkflow,
		Severity: SeverityError,
		Recovery: recovery,
	}
}

// NewStateError создаёт ошибку состояния (не retryable).
func NewStateError(code, message string, recovery ...string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: CategoryState,
		Severity: SeverityError,
		Recovery: recovery,
	}
}

// NewSystemError создаёт системную ошибку (retryable).
func NewSystemError(code, message string, err error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  CategorySystem,
		Severity:  SeverityCritical,
		Retryable: true,
		Recovery:  []string{"retry the operation", "check system resources"},
		Err:       err,
	}
}

// NewConvergenceError создаёт ошибку синтеза.
func NewConvergenceError(code, message string, recovery ...string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: CategoryConvergence,
		Severity: SeverityError,
		Recovery: recovery,
	}
}

// WrapSystem оборачивает произвольную ошибку в system-категорию.
// Если err уже *Error — возвращает как есть.
func WrapSystem(err error) *Error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return NewSystemError("INTERNAL", "unexpected internal error", err)
}

// IsRetryable сообщает, помечена ли ошибка как retryable.
func IsRetryable(err error) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Retryable
	}
	return false
}
