package main

import (
	"context"
	"log/slog"

	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/engine"
	"github.com/shaiso/Techne/internal/mq"
)

// startConsumers запускает consumers входящих запросов.
//
// Нечитаемые конверты подтверждаются после логирования; ошибки движка
// возвращаются consumer'у, который по retryable-флагу таксономии
// решает — requeue или DLQ.
func startConsumers(ctx context.Context, eng *engine.Engine, conn *mq.Connection, logger *slog.Logger) []*mq.Consumer {
	planConsumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:   string(mq.QueuePlanRequests),
		Handler: planHandler(eng, logger),
	})
	stepConsumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:   string(mq.QueueStepRequests),
		Handler: stepHandler(eng, logger),
	})

	consumers := []*mq.Consumer{planConsumer, stepConsumer}
	for _, c := range consumers {
		go func(c *mq.Consumer) {
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("consumer stopped unexpectedly", "error", err)
			}
		}(c)
	}
	return consumers
}

// planHandler обрабатывает запросы планирования.
func planHandler(eng *engine.Engine, logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		payload, err := mq.ParsePayload[mq.PlanRequestPayload](&d.Message)
		if err != nil {
			logger.Error("malformed plan request", "message_id", d.Message.ID, "error", err)
			return nil
		}

		resp, err := eng.Plan(ctx, engine.PlanRequest{
			Problem:    payload.Problem,
			Techniques: payload.Techniques,
			Mode:       domain.ExecutionMode(payload.Mode),
			Convergence: domain.ConvergenceOptions{
				Strategy:    domain.ConvergenceStrategy(payload.Strategy),
				MaxInsights: payload.MaxInsights,
			},
		})
		if err != nil {
			// Судьбу сообщения (requeue или DLQ) решает consumer
			// по retryable-флагу таксономии.
			return err
		}

		plansTotal.Inc()
		logger.Info("plan request handled",
			"message_id", d.Message.ID,
			"plan_id", resp.PlanID,
			"mode", resp.Mode,
			"groups", len(resp.Groups),
		)
		return nil
	}
}

// stepHandler обрабатывает шаги выполнения техник.
func stepHandler(eng *engine.Engine, logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		payload, err := mq.ParsePayload[mq.StepRequestPayload](&d.Message)
		if err != nil {
			logger.Error("malformed step request", "message_id", d.Message.ID, "error", err)
			return nil
		}

		resp, err := eng.Step(ctx, engine.StepRequest{
			PlanID:         payload.PlanID,
			SessionID:      payload.SessionID,
			Technique:      payload.Technique,
			Problem:        payload.Problem,
			CurrentStep:    payload.CurrentStep,
			TotalSteps:     payload.TotalSteps,
			Output:         payload.Output,
			NextStepNeeded: payload.NextStepNeeded,
		})
		if err != nil {
			stepErrorsTotal.Inc()
			return err
		}

		stepsTotal.Inc()
		logger.Debug("step request handled",
			"message_id", d.Message.ID,
			"session_id", resp.SessionID,
			"step", resp.CurrentStep,
			"status", resp.Status,
			"waiting", resp.Waiting,
		)
		return nil
	}
}
