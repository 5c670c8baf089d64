// Package config загружает настройки движка из переменных окружения.
//
// Все значения имеют безопасные default'ы; движок полностью работоспособен
// без единой переменной окружения. Нулевые/некорректные значения
// заменяются default'ами при загрузке, поэтому остальной код не
// перепроверяет конфигурацию.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default values.
const (
	DefaultMaxSessions        = 1000
	DefaultMaxSessionSizeKB   = 256
	DefaultSessionTTL         = 30 * time.Minute
	DefaultCleanupInterval    = time.Minute
	DefaultMemoryLimitRatio   = 0.85
	DefaultBatchWindow        = 100 * time.Millisecond
	DefaultBatchMaxSize       = 10
	DefaultMaxParallel        = 5
	DefaultMaxConcurrentCalls = 20
	DefaultExecutionTimeout   = 5 * time.Minute
	DefaultDependencyTimeout  = 2 * time.Minute
	DefaultStalenessThreshold = time.Minute
	DefaultRetryBaseDelay     = time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultRetryMaxAttempts   = 3

	// DefaultCriticalDependentThreshold — сколько сессий должно зависеть
	// от упавшей, чтобы она считалась критической.
	DefaultCriticalDependentThreshold = 1

	// DefaultConflictRate — доля источников, дающая оценку числа
	// конфликтов при конвергенции.
	DefaultConflictRate = 0.1
)

// Config — настройки движка.
type Config struct {
	// MaxSessions — максимум одновременных сессий в store.
	MaxSessions int

	// MaxSessionSizeKB — максимальный размер одной сессии.
	MaxSessionSizeKB int

	// SessionTTL — время жизни сессии без активности.
	SessionTTL time.Duration

	// CleanupInterval — интервал фонового sweep'а store.
	CleanupInterval time.Duration

	// CleanupCron — cron-выражение для sweep'а (переопределяет интервал).
	CleanupCron string

	// MemoryMonitor — включён ли мониторинг heap ratio.
	MemoryMonitor bool

	// MemoryLimitRatio — доля heap'а, после которой включается
	// проактивная эвикция и деградация в sequential.
	MemoryLimitRatio float64

	// BatchWindow — debounce-окно батч-стратегии синхронизатора.
	BatchWindow time.Duration

	// BatchMaxSize — размер очереди, при котором батч сбрасывается сразу.
	BatchMaxSize int

	// MaxParallel — потолок параллелизма одной группы.
	MaxParallel int

	// MaxConcurrentCalls — потолок одновременных сессий одного запроса.
	MaxConcurrentCalls int

	// ExecutionTimeout — бюджет выполнения сессии.
	ExecutionTimeout time.Duration

	// DependencyTimeout — бюджет ожидания зависимостей.
	DependencyTimeout time.Duration

	// StalenessThreshold — порог «прогресс устарел».
	StalenessThreshold time.Duration

	// RetryBaseDelay — базовая задержка retry (delay = base × 2^(n−1)).
	RetryBaseDelay time.Duration

	// RetryMaxDelay — потолок задержки retry.
	RetryMaxDelay time.Duration

	// RetryMaxAttempts — максимум попыток retry.
	RetryMaxAttempts int

	// CriticalDependentThreshold — порог «критической» упавшей сессии.
	CriticalDependentThreshold int

	// ConflictRate — доля источников для оценки конфликтов конвергенции.
	ConflictRate float64
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		MaxSessions:                DefaultMaxSessions,
		MaxSessionSizeKB:           DefaultMaxSessionSizeKB,
		SessionTTL:                 DefaultSessionTTL,
		CleanupInterval:            DefaultCleanupInterval,
		MemoryLimitRatio:           DefaultMemoryLimitRatio,
		BatchWindow:                DefaultBatchWindow,
		BatchMaxSize:               DefaultBatchMaxSize,
		MaxParallel:                DefaultMaxParallel,
		MaxConcurrentCalls:         DefaultMaxConcurrentCalls,
		ExecutionTimeout:           DefaultExecutionTimeout,
		DependencyTimeout:          DefaultDependencyTimeout,
		StalenessThreshold:         DefaultStalenessThreshold,
		RetryBaseDelay:             DefaultRetryBaseDelay,
		RetryMaxDelay:              DefaultRetryMaxDelay,
		RetryMaxAttempts:           DefaultRetryMaxAttempts,
		CriticalDependentThreshold: DefaultCriticalDependentThreshold,
		ConflictRate:               DefaultConflictRate,
	}
}

// FromEnv загружает конфигурацию из переменных окружения
// поверх значений по умолчанию.
func FromEnv() Config {
	cfg := Default()

	cfg.MaxSessions = envInt("TECHNE_MAX_SESSIONS", cfg.MaxSessions)
	cfg.MaxSessionSizeKB = envInt("TECHNE_MAX_SESSION_SIZE_KB", cfg.MaxSessionSizeKB)
	cfg.SessionTTL = envDurationMs("TECHNE_SESSION_TTL_MS", cfg.SessionTTL)
	cfg.CleanupInterval = envDurationMs("TECHNE_CLEANUP_INTERVAL_MS", cfg.CleanupInterval)
	cfg.CleanupCron = os.Getenv("TECHNE_CLEANUP_CRON")
	cfg.MemoryMonitor = envBool("TECHNE_MEMORY_MONITOR", cfg.MemoryMonitor)
	cfg.MemoryLimitRatio = envFloat("TECHNE_MEMORY_LIMIT_RATIO", cfg.MemoryLimitRatio)
	cfg.BatchWindow = envDurationMs("TECHNE_BATCH_WINDOW_MS", cfg.BatchWindow)
	cfg.BatchMaxSize = envInt("TECHNE_BATCH_MAX_SIZE", cfg.BatchMaxSize)
	cfg.MaxParallel = envInt("TECHNE_MAX_PARALLEL", cfg.MaxParallel)
	cfg.MaxConcurrentCalls = envInt("TECHNE_MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls)
	cfg.ExecutionTimeout = envDurationMs("TECHNE_EXECUTION_TIMEOUT_MS", cfg.ExecutionTimeout)
	cfg.DependencyTimeout = envDurationMs("TECHNE_DEPENDENCY_TIMEOUT_MS", cfg.DependencyTimeout)
	cfg.StalenessThreshold = envDurationMs("TECHNE_STALENESS_THRESHOLD_MS", cfg.StalenessThreshold)
	cfg.RetryBaseDelay = envDurationMs("TECHNE_RETRY_BASE_DELAY_MS", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = envDurationMs("TECHNE_RETRY_MAX_DELAY_MS", cfg.RetryMaxDelay)
	cfg.RetryMaxAttempts = envInt("TECHNE_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.CriticalDependentThreshold = envInt("TECHNE_CRITICAL_DEPENDENT_THRESHOLD", cfg.CriticalDependentThreshold)
	cfg.ConflictRate = envFloat("TECHNE_CONFLICT_RATE", cfg.ConflictRate)

	return cfg
}

// envInt читает положительное целое из переменной окружения.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envDurationMs читает длительность в миллисекундах.
func envDurationMs(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envFloat читает число с плавающей точкой в (0, 1].
func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return fallback
	}
	return f
}

// envBool читает булево значение ("true"/"1" — true).
func envBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}
