// Techne Engine — движок оркестрации многошаговых техник.
//
// Engine:
//   - Обслуживает REST API для планов, шагов, сессий и групп
//   - Принимает plan/step запросы из RabbitMQ (опционально)
//   - Ведёт сессии, параллельные группы и их прогресс
//   - Публикует события прогресса, таймаутов и завершения групп
//   - Сохраняет снапшоты сессий в PostgreSQL (опционально)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Techne/internal/api"
	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/domain"
	"github.com/shaiso/Techne/internal/engine"
	"github.com/shaiso/Techne/internal/mq"
	"github.com/shaiso/Techne/internal/progress"
	"github.com/shaiso/Techne/internal/repo"
	"github.com/shaiso/Techne/internal/telemetry"
	"github.com/shaiso/Techne/internal/timeout"
)

var (
	plansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techne_engine_plans_total",
		Help: "Total plan requests handled by the engine",
	})
	stepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techne_engine_steps_total",
		Help: "Total step requests handled by the engine",
	})
	stepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techne_engine_step_errors_total",
		Help: "Total step requests rejected with an error",
	})
	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techne_engine_execution_timeouts_total",
		Help: "Total sessions failed by execution timeout",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting techne-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings := config.FromEnv()

	// PostgreSQL — опциональный коллаборатор персистентности:
	// без него движок работает только в памяти.
	var snapshotRepo *repo.SnapshotRepo
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Warn("database not available, snapshots disabled", "error", err)
	} else {
		defer pool.Close()
		snapshotRepo = repo.NewSnapshotRepo(pool)
		logger.Info("database connected")
	}

	var snapshots engine.SnapshotSaver
	if snapshotRepo != nil {
		snapshots = snapshotRepo
	}

	eng, err := engine.New(engine.Config{
		Settings:  settings,
		Snapshots: snapshots,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	eng.Start(ctx)

	// RabbitMQ — опциональный транспорт запросов и событий.
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	var consumers []*mq.Consumer
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in library-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		bridgeEvents(eng, publisher, logger)
		consumers = startConsumers(ctx, eng, mqConn, logger)
	}

	// HTTP mux: REST API + /healthz + /metrics
	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Engine:    eng,
		Snapshots: snapshotRepo,
		Logger:    logger,
	}).RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8080"
	if v := os.Getenv("TECHNE_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Порядок остановки: сначала приём запросов, потом HTTP,
	// последним — движок с его таймерами и блокировками.
	for _, c := range consumers {
		c.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	eng.Shutdown()
	logger.Info("techne-engine stopped")
}

// bridgeEvents транслирует типизированные события движка во внешние
// сообщения techne.events.
func bridgeEvents(eng *engine.Engine, publisher *mq.Publisher, logger *slog.Logger) {
	eng.Coordinator().Subscribe(progress.ObserverFunc(func(rec domain.ProgressRecord) {
		err := publisher.PublishProgress(context.Background(), mq.ProgressPayload{
			SessionID:   rec.SessionID,
			GroupID:     rec.GroupID,
			Status:      string(rec.Status),
			CurrentStep: rec.CurrentStep,
			TotalSteps:  rec.TotalSteps,
		})
		if err != nil {
			logger.Warn("failed to publish progress event", "error", err)
		}
	}))

	eng.Coordinator().SubscribeCompletion(progress.CompletionObserverFunc(func(ev progress.GroupCompletion) {
		err := publisher.PublishGroupCompleted(context.Background(), mq.GroupCompletedPayload{
			GroupID:   ev.GroupID,
			Success:   ev.Success,
			Completed: ev.Completed,
			Failed:    ev.Failed,
		})
		if err != nil {
			logger.Warn("failed to publish group event", "error", err)
		}
	}))

	eng.Monitor().Subscribe(timeout.ObserverFunc(func(ev timeout.Event) {
		if ev.Kind == timeout.EventExecutionTimeout {
			timeoutsTotal.Inc()
		}
		err := publisher.PublishTimeout(context.Background(), mq.TimeoutPayload{
			SessionID:   ev.SessionID,
			Kind:        string(ev.Kind),
			ElapsedMs:   ev.Elapsed.Milliseconds(),
			ThresholdMs: ev.Threshold.Milliseconds(),
		})
		if err != nil {
			logger.Warn("failed to publish timeout event", "error", err)
		}
	}))
}
