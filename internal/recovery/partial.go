package recovery

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
)

// Strategy — стратегия обработки частичного завершения группы.
type Strategy string

const (
	// StrategyProceedWithAvailable — продолжить конвергенцию с тем,
	// что завершилось: падений достаточно мало и ни одно не критично.
	StrategyProceedWithAvailable Strategy = "proceed_with_available"

	// StrategyRetryCriticalSessions — повторить критические сессии,
	// пока остаётся бюджет попыток.
	StrategyRetryCriticalSessions Strategy = "retry_critical_sessions"

	// StrategyFallbackSimplified — деградировать к упрощённой
	// конвергенции над оставшимися результатами.
	StrategyFallbackSimplified Strategy = "fallback_to_simplified_convergence"

	// StrategyAbortGroup — прервать группу: пригодных результатов нет.
	StrategyAbortGroup Strategy = "abort_group"
)

// Member — участник группы глазами обработчика.
type Member struct {
	// SessionID — идентификатор сессии.
	SessionID string

	// Technique — техника участника.
	Technique string

	// Status — текущий статус сессии.
	Status domain.SessionStatus

	// Dependents — сессии, зависящие от этой.
	Dependents []string

	// Attempts — сколько раз сессия уже запускалась.
	Attempts int
}

// Categorization — разбиение участников по исходу.
type Categorization struct {
	Completed []string
	Failed    []string
	Pending   []string

	// Critical — упавшие сессии, от которых зависит больше
	// сессий, чем разрешает порог.
	Critical []string
}

// Resolution — выбранная стратегия и её подробности для вызывающей
// стороны.
type Resolution struct {
	// Strategy — ровно одна выбранная стратегия.
	Strategy Strategy `json:"strategy"`

	// RetrySessions — сессии к повтору (для retry-стратегии).
	RetrySessions []string `json:"retry_sessions,omitempty"`

	// MissingSessions — сессии, результатов которых не будет.
	MissingSessions []string `json:"missing_sessions,omitempty"`

	// MissingTechniques — техники, выпавшие из результата.
	MissingTechniques []string `json:"missing_techniques,omitempty"`

	// Caveats — оговорки для вызывающей стороны.
	Caveats []string `json:"caveats,omitempty"`
}

// Handler — обработчик частичного завершения параллельной группы.
type Handler struct {
	criticalThreshold int
	maxAttempts       int
	logger            *slog.Logger
}

// HandlerConfig — конфигурация Handler.
type HandlerConfig struct {
	// CriticalThreshold — падение критично, когда число зависимых
	// сессий превышает порог (default: 1).
	CriticalThreshold int

	// MaxAttempts — бюджет попыток на сессию (default: 3).
	MaxAttempts int

	// Logger — логгер.
	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	criticalThreshold := cfg.CriticalThreshold
	if criticalThreshold <= 0 {
		criticalThreshold = config.DefaultCriticalDependentThreshold
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultRetryMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		criticalThreshold: criticalThreshold,
		maxAttempts:       maxAttempts,
		logger:            logger,
	}
}

// Categorize разбивает участников на завершённых, упавших и
// ожидающих и помечает критические падения.
func (h *Handler) Categorize(members []Member) Categorization {
	var cat Categorization
	for _, m := range members {
		switch m.Status {
		case domain.SessionStatusCompleted:
			cat.Completed = append(cat.Completed, m.SessionID)
		case domain.SessionStatusFailed:
			cat.Failed = append(cat.Failed, m.SessionID)
			if len(m.Dependents) > h.criticalThreshold {
				cat.Critical = append(cat.Critical, m.SessionID)
			}
		default:
			cat.Pending = append(cat.Pending, m.SessionID)
		}
	}
	return cat
}

// Resolve выбирает ровно одну стратегию для группы с упавшими
// сессиями.
//
// Порядок выбора: критическое падение с остатком бюджета попыток —
// повтор; ни одного завершённого результата — прерывание; критическое
// падение без бюджета либо падений больше, чем результатов, —
// упрощённая конвергенция; иначе — продолжение с имеющимся.
func (h *Handler) Resolve(groupID string, members []Member) (*Resolution, error) {
	cat := h.Categorize(members)
	if len(cat.Failed) == 0 {
		return nil, domain.NewWorkflowError("NO_FAILED_SESSIONS",
			fmt.Sprintf("group %q has no failed sessions to handle", groupID),
			"call the handler only when the group reports failures",
		).WithContext("group_id", groupID)
	}

	byID := make(map[string]Member, len(members))
	for _, m := range members {
		byID[m.SessionID] = m
	}

	missing := append(append([]string(nil), cat.Failed...), cat.Pending...)
	sort.Strings(missing)
	missingTechniques := techniquesOf(byID, missing)

	res := &Resolution{
		MissingSessions:   missing,
		MissingTechniques: missingTechniques,
	}

	retriable := h.retriableCritical(byID, cat.Critical)

	switch {
	case len(retriable) > 0:
		res.Strategy = StrategyRetryCriticalSessions
		res.RetrySessions = retriable
		res.Caveats = append(res.Caveats,
			fmt.Sprintf("critical sessions %v will be retried before convergence", retriable))

	case len(cat.Completed) == 0:
		res.Strategy = StrategyAbortGroup
		res.Caveats = append(res.Caveats,
			"no usable results remain, the group cannot converge")

	case len(cat.Critical) > 0 || len(cat.Failed) > len(cat.Completed):
		res.Strategy = StrategyFallbackSimplified
		res.Caveats = append(res.Caveats,
			fmt.Sprintf("convergence degraded to a simplified pass over %d of %d results",
				len(cat.Completed), len(members)))
		appendMissingCaveat(res, missingTechniques)

	default:
		res.Strategy = StrategyProceedWithAvailable
		appendMissingCaveat(res, missingTechniques)
	}

	h.logger.Info("partial completion resolved",
		"group_id", groupID,
		"strategy", res.Strategy,
		"completed", len(cat.Completed),
		"failed", len(cat.Failed),
		"critical", len(cat.Critical),
	)

	return res, nil
}

// retriableCritical отбирает критические сессии с остатком бюджета.
func (h *Handler) retriableCritical(byID map[string]Member, critical []string) []string {
	var out []string
	for _, id := range critical {
		if m, ok := byID[id]; ok && m.Attempts < h.maxAttempts {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// techniquesOf возвращает уникальные техники перечисленных сессий.
func techniquesOf(byID map[string]Member, sessionIDs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range sessionIDs {
		m, ok := byID[id]
		if !ok || m.Technique == "" || seen[m.Technique] {
			continue
		}
		seen[m.Technique] = true
		out = append(out, m.Technique)
	}
	sort.Strings(out)
	return out
}

// appendMissingCaveat добавляет оговорку о выпавших техниках.
func appendMissingCaveat(res *Resolution, missingTechniques []string) {
	if len(missingTechniques) > 0 {
		res.Caveats = append(res.Caveats,
			fmt.Sprintf("results do not include techniques %v", missingTechniques))
	}
}
