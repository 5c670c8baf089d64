package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
)

// Retryer — исполнитель retryable-операций с экспоненциальной задержкой.
type Retryer struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// RetryerConfig — конфигурация Retryer.
type RetryerConfig struct {
	// BaseDelay — задержка первой повторной попытки (default: 1s).
	BaseDelay time.Duration

	// MaxDelay — потолок задержки (default: 30s).
	MaxDelay time.Duration

	// MaxAttempts — максимум попыток, включая первую (default: 3).
	MaxAttempts int

	// Logger — логгер.
	Logger *slog.Logger
}

// NewRetryer создаёт Retryer.
func NewRetryer(cfg RetryerConfig) *Retryer {
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = config.DefaultRetryBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = config.DefaultRetryMaxDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultRetryMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retryer{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Delay возвращает задержку перед попыткой attempt (нумерация с 1):
// base × 2^(attempt−1), не больше потолка.
func (r *Retryer) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.maxDelay {
			return r.maxDelay
		}
	}
	if delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}

// Do выполняет fn до maxAttempts раз.
//
// Останавливается немедленно на не-retryable ошибке и на последней
// попытке. Ошибка с подсказкой RetryAfter откладывает повтор на
// подсказанное время вместо вычисленной задержки.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.WrapSystem(err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) || attempt == r.maxAttempts {
			return lastErr
		}

		delay := r.Delay(attempt)
		var engineErr *domain.Error
		if errors.As(lastErr, &engineErr) && engineErr.RetryAfter > 0 {
			delay = engineErr.RetryAfter
		}

		r.logger.Debug("retrying operation",
			"op", op, "attempt", attempt, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.WrapSystem(ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}
