package engine

import (
	"context"
	"time"

	"github.com/shaiso/Techne/internal/converge"
	"github.com/shaiso/Techne/internal/domain"
)

// convergenceStep выполняет шаг синтеза результатов параллельной
// группы. Результаты подаются inline либо собираются из завершённых
// сессий групп плана; без единого результата движок конвергенции
// возвращает missing-parameter ошибку.
func (e *Engine) convergenceStep(ctx context.Context, req StepRequest) (*StepResponse, error) {
	session, err := e.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	results := req.Results

	var record *planRecord
	planID := req.PlanID
	if planID == "" && session.Parallel != nil {
		planID = session.Parallel.PlanID
	}
	if planID != "" {
		record, err = e.planRecordByID(planID)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			results = e.gatherResults(ctx, record)
		}
	}

	convOpts := domain.ConvergenceOptions{}
	if record != nil {
		convOpts = record.convergence
		if len(record.groups) > 0 {
			convOpts = record.groups[0].Convergence
		}
	}

	stepResult, err := e.converger.Step(converge.Request{
		Step:    req.CurrentStep,
		Results: results,
		Options: convOpts,
	})
	if err != nil {
		return nil, err
	}

	var snap *domain.Session
	err = e.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
		if s.Status == domain.SessionStatusPending {
			if err := s.Transition(domain.SessionStatusRunning); err != nil {
				return err
			}
		}

		s.RecordStep(domain.StepRecord{
			Technique:      convergenceTechnique,
			Step:           req.CurrentStep,
			TotalSteps:     req.TotalSteps,
			Output:         req.Output,
			NextStepNeeded: stepResult.NextStepNeeded,
			Timestamp:      time.Now(),
		})

		if stepResult.Synthesis != nil {
			s.Insights = stepResult.Synthesis.Insights
		}
		if !stepResult.NextStepNeeded && !req.NextStepNeeded {
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

	if stepResult.Synthesis != nil && record != nil {
		e.finalizeGroups(record)
	}

	status := domain.ProgressInProgress
	if snap.Status == domain.SessionStatusCompleted {
		status = domain.ProgressCompleted
	}
	if err := e.reportProgress(ctx, snap, req, status, ""); err != nil {
		return nil, err
	}
	e.saveSnapshot(ctx, snap)

	return &StepResponse{
		SessionID:      snap.ID,
		PlanID:         planID,
		Technique:      convergenceTechnique,
		CurrentStep:    req.CurrentStep,
		TotalSteps:     req.TotalSteps,
		NextStepNeeded: stepResult.NextStepNeeded,
		Status:         snap.Status,
		Convergence:    stepResult,
	}, nil
}

// gatherResults собирает результаты завершённых сессий всех групп
// плана. Выводы берутся из Insights сессии, при их отсутствии —
// из выходов записанных шагов.
func (e *Engine) gatherResults(ctx context.Context, record *planRecord) []converge.ParallelResult {
	var results []converge.ParallelResult

	for _, group := range record.groups {
		for _, id := range group.SessionIDs {
			if !group.Completed[id] {
				continue
			}
			session, err := e.snapshotOf(ctx, id)
			if err != nil {
				continue
			}

			insights := session.Insights
			if len(insights) == 0 {
				for _, step := range session.History {
					if step.Output != "" {
						insights = append(insights, step.Output)
					}
				}
			}

			results = append(results, converge.ParallelResult{
				SessionID:  id,
				Technique:  session.Technique,
				Insights:   insights,
				Confidence: 1,
			})
		}
	}
	return results
}

// finalizeGroups переводит сконвергировавшие группы плана в финальный
// статус: partial_success при наличии упавших сессий, иначе completed.
func (e *Engine) finalizeGroups(record *planRecord) {
	for _, group := range record.groups {
		if group.Status != domain.GroupStatusConverging {
			continue
		}

		status := domain.GroupStatusCompleted
		if len(group.Failed) > 0 {
			status = domain.GroupStatusPartialSuccess
		}
		if err := e.coordinator.FinalizeGroup(group.ID, status); err != nil {
			e.logger.Warn("group finalization failed",
				"group_id", group.ID,
				"error", err,
			)
			continue
		}

		e.logger.Info("group finalized",
			"group_id", group.ID,
			"status", status,
		)
	}
}
