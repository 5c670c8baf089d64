package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/converge"
	"github.com/shaiso/Techne/internal/domain"
)

// convergenceTechnique — имя синтетической техники синтеза.
const convergenceTechnique = "convergence"

// dependencyPollHint — рекомендуемая пауза перед повтором шага,
// ожидающего жёсткие зависимости.
const dependencyPollHint = time.Second

// StepRequest — один шаг выполнения техники.
type StepRequest struct {
	// PlanID — план, в рамках которого выполняется шаг (опционально).
	PlanID string `json:"plan_id,omitempty"`

	// SessionID — сессия; пустой — создаётся новая.
	SessionID string `json:"session_id,omitempty"`

	// Technique — выполняемая техника.
	Technique string `json:"technique"`

	// Problem — формулировка задачи (для лениво создаваемых сессий).
	Problem string `json:"problem,omitempty"`

	// CurrentStep — номер шага (с 1).
	CurrentStep int `json:"current_step"`

	// TotalSteps — общее число шагов техники.
	TotalSteps int `json:"total_steps"`

	// Output — непрозрачный текстовый результат шага.
	Output string `json:"output"`

	// NextStepNeeded — ожидает ли вызывающая сторона следующий шаг.
	NextStepNeeded bool `json:"next_step_needed"`

	// Error — текст ошибки исполнителя; непустой переводит сессию
	// в failed, не прерывая сиблингов группы.
	Error string `json:"error,omitempty"`

	// Insights — выводы шага для общего контекста группы.
	Insights []string `json:"insights,omitempty"`

	// ThemeWeights — вклад шага в веса тем общего контекста.
	ThemeWeights map[string]float64 `json:"theme_weights,omitempty"`

	// Metrics — скалярные метрики для общего контекста.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// Results — результаты параллельных сессий, поданные inline
	// (только для техники convergence; иначе собираются из группы).
	Results []converge.ParallelResult `json:"results,omitempty"`
}

// StepResponse — результат шага.
type StepResponse struct {
	SessionID      string               `json:"session_id"`
	PlanID         string               `json:"plan_id,omitempty"`
	GroupID        string               `json:"group_id,omitempty"`
	Technique      string               `json:"technique"`
	CurrentStep    int                  `json:"current_step"`
	TotalSteps     int                  `json:"total_steps"`
	NextStepNeeded bool                 `json:"next_step_needed"`
	Status         domain.SessionStatus `json:"status"`

	// Waiting — шаг не выполнен: сессия ждёт жёсткие зависимости.
	Waiting bool `json:"waiting,omitempty"`

	// WaitingFor — незавершённые зависимости.
	WaitingFor []string `json:"waiting_for,omitempty"`

	// RetryAfter — рекомендуемая пауза перед повтором шага.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Convergence — результат шага синтеза (техника convergence).
	Convergence *converge.StepResult `json:"convergence,omitempty"`
}

// Step выполняет один шаг техники.
//
// Шаг с незавершёнными жёсткими зависимостями не выполняется:
// сессия переводится в waiting, ответ перечисляет блокирующие
// сессии. Ошибка исполнителя (req.Error) изолируется в статус
// failed этой сессии; сиблинги группы продолжают работу.
func (e *Engine) Step(ctx context.Context, req StepRequest) (*StepResponse, error) {
	if err := e.validateStep(req); err != nil {
		return nil, err
	}

	if req.Technique == convergenceTechnique {
		return e.convergenceStep(ctx, req)
	}

	session, err := e.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if pending := e.pendingDependencies(ctx, session); len(pending) > 0 {
		return e.waitingResponse(ctx, session, req, pending)
	}

	if req.Error != "" {
		return e.failStep(ctx, session, req)
	}

	// Все чтения после Update идут по копии, снятой под блокировкой.
	var snap *domain.Session
	err = e.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
		if s.Status == domain.SessionStatusPending || s.Status == domain.SessionStatusWaiting {
			if err := s.Transition(domain.SessionStatusRunning); err != nil {
				return err
			}
			e.mu.Lock()
			e.attempts[s.ID]++
			e.mu.Unlock()
		}
		if s.Status != domain.SessionStatusRunning {
			return domain.NewStateError("SESSION_FINISHED",
				fmt.Sprintf("session %q is already %s", s.ID, s.Status),
				"start a new session for further steps",
			).WithContext("session_id", s.ID)
		}

		s.RecordStep(domain.StepRecord{
			Technique:      req.Technique,
			Step:           req.CurrentStep,
			TotalSteps:     req.TotalSteps,
			Output:         req.Output,
			NextStepNeeded: req.NextStepNeeded,
			Timestamp:      time.Now(),
		})
		s.Insights = append(s.Insights, req.Insights...)

		if !req.NextStepNeeded && req.CurrentStep >= req.TotalSteps {
			if err := s.Transition(domain.SessionStatusCompleted); err != nil {
				return err
			}
		}
		snap = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	status := domain.ProgressInProgress
	if snap.Status == domain.SessionStatusCompleted {
		status = domain.ProgressCompleted
	} else if req.CurrentStep == 1 {
		status = domain.ProgressStarted
	}

	if err := e.reportProgress(ctx, snap, req, status, ""); err != nil {
		return nil, err
	}
	if err := e.shareContext(ctx, snap, req); err != nil {
		return nil, err
	}
	e.saveSnapshot(ctx, snap)

	return &StepResponse{
		SessionID:      snap.ID,
		PlanID:         e.planOf(snap),
		GroupID:        snap.ParallelGroupID,
		Technique:      req.Technique,
		CurrentStep:    req.CurrentStep,
		TotalSteps:     req.TotalSteps,
		NextStepNeeded: req.NextStepNeeded,
		Status:         snap.Status,
	}, nil
}

// validateStep проверяет параметры шага на границе фасада.
func (e *Engine) validateStep(req StepRequest) error {
	if req.Technique == "" {
		return domain.NewValidationError("MISSING_PARAMETER",
			"technique is required",
			"pass the technique name",
		)
	}
	if req.CurrentStep < 1 || req.TotalSteps < 1 {
		return domain.NewValidationError("INVALID_STEP",
			fmt.Sprintf("step %d of %d is not a valid position", req.CurrentStep, req.TotalSteps),
			"steps are numbered from 1",
		)
	}
	if req.CurrentStep > req.TotalSteps {
		return domain.NewValidationError("INVALID_STEP",
			fmt.Sprintf("step %d exceeds total steps %d", req.CurrentStep, req.TotalSteps),
			"check the step counter",
		)
	}

	maxSize := e.settings.MaxSessionSizeKB
	if maxSize <= 0 {
		maxSize = config.DefaultMaxSessionSizeKB
	}
	if len(req.Output) > maxSize*1024 {
		return domain.NewValidationError("OUTPUT_TOO_LARGE",
			fmt.Sprintf("step output is %d bytes, limit is %d KB", len(req.Output), maxSize),
			"truncate or summarize the step output",
		)
	}

	// Синтетическая техника синтеза не описана в реестре;
	// номера её шагов валидирует сам движок конвергенции.
	if req.Technique == convergenceTechnique {
		return nil
	}

	tech, err := e.registry.Get(req.Technique)
	if err != nil {
		return domain.NewValidationError("UNKNOWN_TECHNIQUE",
			fmt.Sprintf("technique %q is not registered", req.Technique),
			"check the technique name against the registry",
		)
	}
	if req.TotalSteps != tech.TotalSteps() {
		return domain.NewValidationError("STEP_COUNT_MISMATCH",
			fmt.Sprintf("technique %q has %d steps, request says %d", req.Technique, tech.TotalSteps(), req.TotalSteps),
			"use the step count from the technique registry",
		)
	}
	return nil
}

// resolveSession возвращает копию сессии запроса, снятую под её
// блокировкой, создавая сессию лениво, когда SessionID пуст.
func (e *Engine) resolveSession(ctx context.Context, req StepRequest) (*domain.Session, error) {
	if req.SessionID != "" {
		var snap *domain.Session
		err := e.sessions.Update(ctx, req.SessionID, func(s *domain.Session) error {
			if s.Technique != req.Technique {
				return domain.NewWorkflowError("TECHNIQUE_MISMATCH",
					fmt.Sprintf("session %q runs %q, not %q", s.ID, s.Technique, req.Technique),
					"pass the technique the session was created with",
				).WithContext("session_id", s.ID)
			}
			snap = s.Clone()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return snap, nil
	}

	if req.PlanID != "" {
		record, err := e.planRecordByID(req.PlanID)
		if err != nil {
			return nil, err
		}
		if !planContains(record, req.Technique) {
			return nil, domain.NewWorkflowError("PLAN_MISMATCH",
				fmt.Sprintf("plan %q does not include technique %q", req.PlanID, req.Technique),
				"request a plan that includes the technique",
			).WithContext("plan_id", req.PlanID)
		}
	}

	session, err := e.sessions.Create(req.Technique, req.Problem, "")
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshotOf(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	e.monitor.Watch(snap.ID, "")
	e.saveSnapshot(ctx, snap)

	return snap, nil
}

// pendingDependencies возвращает незавершённые жёсткие зависимости сессии.
func (e *Engine) pendingDependencies(ctx context.Context, session *domain.Session) []string {
	var pending []string
	for _, dep := range session.DependsOn {
		prerequisite, err := e.snapshotOf(ctx, dep)
		if err != nil || prerequisite.Status != domain.SessionStatusCompleted {
			pending = append(pending, dep)
		}
	}
	return pending
}

// waitingResponse переводит сессию в waiting и возвращает
// waiting-ответ вместо выполнения шага.
func (e *Engine) waitingResponse(ctx context.Context, session *domain.Session, req StepRequest, pending []string) (*StepResponse, error) {
	var snap *domain.Session
	err := e.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
		if s.Status != domain.SessionStatusWaiting {
			if err := s.Transition(domain.SessionStatusWaiting); err != nil {
				return err
			}
		}
		snap = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.reportProgress(ctx, snap, req, domain.ProgressWaiting, ""); err != nil {
		return nil, err
	}
	e.saveSnapshot(ctx, snap)

	return &StepResponse{
		SessionID:  snap.ID,
		PlanID:     e.planOf(snap),
		GroupID:    snap.ParallelGroupID,
		Technique:  req.Technique,
		Status:     snap.Status,
		Waiting:    true,
		WaitingFor: pending,
		RetryAfter: dependencyPollHint,
	}, nil
}

// failStep изолирует ошибку исполнителя в статус failed этой сессии.
func (e *Engine) failStep(ctx context.Context, session *domain.Session, req StepRequest) (*StepResponse, error) {
	var snap *domain.Session
	err := e.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
		if !s.Status.IsTerminal() {
			if err := s.Transition(domain.SessionStatusFailed); err != nil {
				return err
			}
		}
		snap = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.reportProgress(ctx, snap, req, domain.ProgressFailed, req.Error); err != nil {
		return nil, err
	}
	e.saveSnapshot(ctx, snap)

	e.logger.Warn("session step failed",
		"session_id", snap.ID,
		"technique", snap.Technique,
		"step", req.CurrentStep,
		"error", req.Error,
	)

	return &StepResponse{
		SessionID:   snap.ID,
		PlanID:      e.planOf(snap),
		GroupID:     snap.ParallelGroupID,
		Technique:   req.Technique,
		CurrentStep: req.CurrentStep,
		TotalSteps:  req.TotalSteps,
		Status:      snap.Status,
	}, nil
}

// reportProgress отправляет отчёт координатору.
func (e *Engine) reportProgress(ctx context.Context, session *domain.Session, req StepRequest, status domain.ProgressStatus, errText string) error {
	return e.coordinator.ReportProgress(ctx, domain.ProgressRecord{
		SessionID:   session.ID,
		GroupID:     session.ParallelGroupID,
		Status:      status,
		CurrentStep: req.CurrentStep,
		TotalSteps:  req.TotalSteps,
		Timestamp:   time.Now(),
		Error:       errText,
		DependsOn:   session.DependsOn,
	})
}

// shareContext отправляет вклад шага в общий контекст группы.
func (e *Engine) shareContext(ctx context.Context, session *domain.Session, req StepRequest) error {
	if session.ParallelGroupID == "" {
		return nil
	}
	if len(req.Insights) == 0 && len(req.ThemeWeights) == 0 && len(req.Metrics) == 0 {
		return nil
	}
	return e.syncer.UpdateSharedContext(ctx, session.ParallelGroupID, domain.ContextUpdate{
		SessionID:    session.ID,
		Insights:     req.Insights,
		ThemeWeights: req.ThemeWeights,
		Metrics:      req.Metrics,
	})
}

// planOf возвращает план сессии, если она создана планировщиком.
func (e *Engine) planOf(session *domain.Session) string {
	if session.Parallel != nil {
		return session.Parallel.PlanID
	}
	return ""
}

// planRecordByID возвращает состояние плана или state-ошибку.
func (e *Engine) planRecordByID(planID string) (*planRecord, error) {
	e.mu.RLock()
	record, ok := e.plans[planID]
	e.mu.RUnlock()

	if !ok {
		return nil, domain.NewStateError("PLAN_NOT_FOUND",
			fmt.Sprintf("plan %q not found", planID),
			"check the plan id",
		).WithContext("plan_id", planID)
	}
	return record, nil
}

// planContains проверяет, входит ли техника в план.
func planContains(record *planRecord, technique string) bool {
	if technique == convergenceTechnique {
		return true
	}
	for _, plan := range record.plans {
		for _, t := range plan.Techniques {
			if t == technique {
				return true
			}
		}
	}
	for _, t := range record.order {
		if t == technique {
			return true
		}
	}
	return false
}
