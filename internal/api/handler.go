package api

import (
	"log/slog"

	"github.com/shaiso/Techne/internal/engine"
	"github.com/shaiso/Techne/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine    *engine.Engine
	snapshots *repo.SnapshotRepo
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine *engine.Engine

	// Snapshots — архив сессий в Postgres. Опционально: nil отключает
	// маршруты /api/v1/snapshots.
	Snapshots *repo.SnapshotRepo

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:    cfg.Engine,
		snapshots: cfg.Snapshots,
		logger:    logger,
	}
}
