package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/planner"
	"github.com/shaiso/Techne/internal/syncer"
)

// PlanRequest — запрос генерации плана.
type PlanRequest struct {
	// Problem — формулировка задачи.
	Problem string `json:"problem"`

	// Techniques — запрошенные техники.
	Techniques []string `json:"techniques"`

	// Mode — режим выполнения. Пустой — parallel при двух и более
	// техниках, иначе sequential.
	Mode domain.ExecutionMode `json:"execution_mode,omitempty"`

	// Convergence — настройки синтеза (опционально).
	Convergence domain.ConvergenceOptions `json:"convergence,omitempty"`

	// SyncStrategy — стратегия общего контекста групп
	// (default: immediate).
	SyncStrategy syncer.Strategy `json:"sync_strategy,omitempty"`
}

// SessionInfo — сессия в ответе Plan.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Technique string `json:"technique"`

	// DependsOn — сессии, которые должны завершиться до старта этой.
	DependsOn []string `json:"depends_on,omitempty"`
}

// GroupInfo — параллельная группа в ответе Plan.
type GroupInfo struct {
	GroupID  string        `json:"group_id"`
	Sessions []SessionInfo `json:"sessions"`
}

// PlanResponse — результат генерации плана.
type PlanResponse struct {
	// PlanID — идентификатор плана.
	PlanID string `json:"plan_id"`

	// Mode — фактический режим (может отличаться от запрошенного
	// при деградации под давлением ресурсов).
	Mode domain.ExecutionMode `json:"execution_mode"`

	// Groups — параллельные группы с созданными сессиями (parallel).
	Groups []GroupInfo `json:"groups,omitempty"`

	// Order — порядок техник с учётом жёстких зависимостей (sequential).
	Order []string `json:"order,omitempty"`

	// Graph — клиентский граф выполнения.
	Graph *domain.ExecutionGraph `json:"execution_graph,omitempty"`

	// ConvergencePhase — true, если план завершается фазой синтеза.
	ConvergencePhase bool `json:"convergence_phase,omitempty"`

	// Warnings — замечания валидации и деградации.
	Warnings []planner.Warning `json:"warnings,omitempty"`

	// Estimate — оценка стоимости запроса.
	Estimate domain.ResourceEstimate `json:"estimate"`
}

// Plan генерирует план выполнения техник.
//
// Для parallel-режима создаются сессии и группы: по группе на
// кластер совместимых техник, каждая группа регистрируется в
// координаторе, мониторе и синхронизаторе. Sequential-режим сессий
// не создаёт — они появляются лениво на первом step.
//
// Под давлением ресурсов parallel-запрос деградирует в sequential
// с предупреждением вместо отказа.
func (e *Engine) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	mode := req.Mode
	switch mode {
	case "":
		mode = domain.ModeSequential
		if len(req.Techniques) > 1 {
			mode = domain.ModeParallel
		}
	case domain.ModeSequential, domain.ModeParallel:
	default:
		return nil, domain.NewValidationError("INVALID_MODE",
			fmt.Sprintf("unknown execution mode %q", mode),
			"use sequential or parallel",
		)
	}

	var warnings []planner.Warning
	if mode == domain.ModeParallel && e.sessions.UnderPressure() {
		mode = domain.ModeSequential
		warnings = append(warnings, planner.Warning{
			Code:           "DEGRADED_TO_SEQUENTIAL",
			Message:        "resource pressure detected, parallel request degraded to sequential",
			Recommendation: "retry in parallel mode after sessions expire",
		})
		e.logger.Warn("parallel plan degraded to sequential",
			"live_sessions", e.sessions.Count(),
		)
	}

	maxCalls := e.settings.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = config.DefaultMaxConcurrentCalls
	}
	if mode == domain.ModeParallel && len(req.Techniques) > maxCalls {
		return nil, domain.NewValidationError("CONCURRENCY_LIMIT",
			fmt.Sprintf("request would spawn %d sessions, limit is %d", len(req.Techniques), maxCalls),
			"reduce the technique list",
			"or split the request into several plans",
		)
	}

	result, err := e.planner.Generate(planner.Request{
		Problem:     req.Problem,
		Techniques:  req.Techniques,
		Mode:        mode,
		Convergence: req.Convergence,
	})
	if err != nil {
		return nil, err
	}

	record := &planRecord{
		id:          domain.NewPlanID(),
		mode:        mode,
		plans:       result.Plans,
		graph:       result.Graph,
		convergence: req.Convergence,
		createdAt:   time.Now(),
	}

	resp := &PlanResponse{
		PlanID:   record.id,
		Mode:     mode,
		Graph:    result.Graph,
		Warnings: append(warnings, result.Warnings...),
		Estimate: result.Estimate,
	}

	for _, plan := range result.Plans {
		if plan.IsConvergence {
			resp.ConvergencePhase = true
			continue
		}
		switch mode {
		case domain.ModeParallel:
			group, infos, err := e.spawnGroup(ctx, record.id, plan, req)
			if err != nil {
				e.teardownPlan(record)
				return nil, err
			}
			record.groups = append(record.groups, group)
			resp.Groups = append(resp.Groups, GroupInfo{
				GroupID:  group.ID,
				Sessions: infos,
			})
		default:
			record.order = plan.Techniques
			resp.Order = plan.Techniques
		}
	}

	if mode == domain.ModeParallel {
		e.linkHardDependencies(ctx, record)
		for i, group := range record.groups {
			resp.Groups[i].Sessions = e.sessionInfos(ctx, group)
		}
	}

	e.mu.Lock()
	e.plans[record.id] = record
	e.mu.Unlock()

	e.logger.Info("plan generated",
		"plan_id", record.id,
		"mode", mode,
		"groups", len(record.groups),
		"warnings", len(resp.Warnings),
	)

	return resp, nil
}

// PlanInfo — сводка по сохранённому плану.
type PlanInfo struct {
	PlanID    string                 `json:"plan_id"`
	Mode      domain.ExecutionMode   `json:"execution_mode"`
	GroupIDs  []string               `json:"group_ids,omitempty"`
	Order     []string               `json:"order,omitempty"`
	Graph     *domain.ExecutionGraph `json:"execution_graph,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// PlanByID возвращает сводку по плану.
func (e *Engine) PlanByID(planID string) (*PlanInfo, error) {
	e.mu.RLock()
	record, ok := e.plans[planID]
	e.mu.RUnlock()

	if !ok {
		return nil, domain.NewStateError("PLAN_NOT_FOUND",
			fmt.Sprintf("plan %q not found", planID),
			"check the plan id",
		).WithContext("plan_id", planID)
	}

	info := &PlanInfo{
		PlanID:    record.id,
		Mode:      record.mode,
		Order:     record.order,
		Graph:     record.graph,
		CreatedAt: record.createdAt,
	}
	for _, group := range record.groups {
		info.GroupIDs = append(info.GroupIDs, group.ID)
	}
	return info, nil
}

// DeletePlan удаляет план, его группы и сессии.
func (e *Engine) DeletePlan(planID string) {
	e.mu.Lock()
	record, ok := e.plans[planID]
	delete(e.plans, planID)
	e.mu.Unlock()

	if ok {
		e.teardownPlan(record)
	}
}

// spawnGroup создаёт сессии одной параллельной группы и регистрирует
// группу у координатора, монитора и синхронизатора.
func (e *Engine) spawnGroup(ctx context.Context, planID string, plan *domain.Plan, req PlanRequest) (*domain.ParallelGroup, []SessionInfo, error) {
	groupID := domain.NewGroupID()

	ids := make([]string, 0, len(plan.Techniques))
	infos := make([]SessionInfo, 0, len(plan.Techniques))

	for _, technique := range plan.Techniques {
		session, err := e.sessions.Create(technique, req.Problem, "")
		if err != nil {
			for _, id := range ids {
				e.sessions.Delete(id)
			}
			return nil, nil, err
		}

		// Поля сессии меняются только под её блокировкой.
		err = e.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
			s.ParallelGroupID = groupID
			s.Parallel = &domain.ParallelMeta{
				PlanID:                  planID,
				Techniques:              plan.Techniques,
				CanExecuteIndependently: true,
			}
			return nil
		})
		if err != nil {
			for _, id := range append(ids, session.ID) {
				e.sessions.Delete(id)
			}
			return nil, nil, err
		}

		ids = append(ids, session.ID)
		infos = append(infos, SessionInfo{
			SessionID: session.ID,
			Technique: technique,
		})
	}

	group := domain.NewParallelGroup(groupID, planID, ids, req.Convergence)
	for _, technique := range plan.Techniques {
		if tech, err := e.registry.Get(technique); err == nil {
			group.Metadata.TotalSteps += tech.TotalSteps()
		}
	}
	group.Metadata.Techniques = plan.Techniques

	e.coordinator.RegisterGroup(group)

	strategy := req.SyncStrategy
	if strategy == "" {
		strategy = syncer.StrategyImmediate
	}
	if err := e.syncer.InitSharedContext(groupID, strategy); err != nil {
		for _, id := range ids {
			e.sessions.Delete(id)
		}
		return nil, nil, err
	}

	for _, id := range ids {
		e.monitor.Watch(id, groupID)
		if session, err := e.snapshotOf(ctx, id); err == nil {
			e.saveSnapshot(ctx, session)
		}
	}

	return group, infos, nil
}

// linkHardDependencies расставляет DependsOn между сессиями плана:
// сессия техники-наследника жёсткой пары стартует после сессии
// техники-предшественника. Кластеризация не допускает жёстких пар
// внутри одной группы, поэтому рёбра соединяют только сессии разных групп.
func (e *Engine) linkHardDependencies(ctx context.Context, record *planRecord) {
	byTechnique := make(map[string]string)
	for _, group := range record.groups {
		for _, id := range group.SessionIDs {
			if session, err := e.snapshotOf(ctx, id); err == nil {
				byTechnique[session.Technique] = session.ID
			}
		}
	}

	for a, idA := range byTechnique {
		for b, idB := range byTechnique {
			if a >= b {
				continue
			}
			before, _, ok := e.registry.HardDependency(a, b)
			if !ok {
				continue
			}
			prerequisiteID, dependentID := idA, idB
			if before == b {
				prerequisiteID, dependentID = idB, idA
			}

			var snap *domain.Session
			err := e.sessions.Update(ctx, dependentID, func(s *domain.Session) error {
				s.DependsOn = append(s.DependsOn, prerequisiteID)
				if s.Parallel != nil {
					s.Parallel.CanExecuteIndependently = false
				}
				snap = s.Clone()
				return nil
			})
			if err != nil {
				continue
			}
			e.saveSnapshot(ctx, snap)
		}
	}
}

// sessionInfos собирает сводки по сессиям группы (после расстановки
// зависимостей).
func (e *Engine) sessionInfos(ctx context.Context, group *domain.ParallelGroup) []SessionInfo {
	infos := make([]SessionInfo, 0, len(group.SessionIDs))
	for _, id := range group.SessionIDs {
		session, err := e.snapshotOf(ctx, id)
		if err != nil {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID: session.ID,
			Technique: session.Technique,
			DependsOn: session.DependsOn,
		})
	}
	return infos
}

// teardownPlan снимает с учёта сессии и группы частично созданного
// или удаляемого плана.
func (e *Engine) teardownPlan(record *planRecord) {
	for _, group := range record.groups {
		for _, id := range group.SessionIDs {
			e.DeleteSession(id)
		}
		e.syncer.DropContext(group.ID)
	}
}
