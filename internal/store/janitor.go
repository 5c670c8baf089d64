package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (стандартные 5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor — фоновый sweep реестра сессий.
//
// Работает по фиксированному интервалу либо по cron-выражению
// (cron имеет приоритет). Каждый проход эвиктит истёкшие по TTL
// сессии и best-effort касается сессий, удерживаемых группами,
// чтобы активные группы не эвиктились из-под координатора.
type Janitor struct {
	store    *Store
	interval time.Duration
	schedule cron.Schedule

	// keepAlive — поставщик id сессий, которые нужно касаться
	// при каждом проходе (активные группы).
	keepAlive func() []string

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// JanitorConfig — конфигурация Janitor.
type JanitorConfig struct {
	// Store — обслуживаемый реестр сессий.
	Store *Store

	// Interval — интервал sweep'а (default: 1m).
	Interval time.Duration

	// CronExpr — cron-выражение; если задано, интервал игнорируется.
	CronExpr string

	// KeepAlive — поставщик id активных сессий (опционально).
	KeepAlive func() []string

	// Logger — логгер.
	Logger *slog.Logger
}

// NewJanitor создаёт Janitor. Некорректное cron-выражение — ошибка.
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		store:     cfg.Store,
		interval:  interval,
		keepAlive: cfg.KeepAlive,
		logger:    logger,
	}

	if cfg.CronExpr != "" {
		schedule, err := cronParser.Parse(cfg.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("parse cleanup cron %q: %w", cfg.CronExpr, err)
		}
		j.schedule = schedule
	}

	return j, nil
}

// Start запускает фоновый sweep.
func (j *Janitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	j.cancelFunc = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop(ctx)
	}()

	j.logger.Info("janitor started",
		"interval", j.interval,
		"cron", j.schedule != nil,
	)
}

// Stop останавливает sweep и ждёт завершения горутины.
func (j *Janitor) Stop() {
	if j.cancelFunc != nil {
		j.cancelFunc()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

// loop — основной цикл sweep'а.
func (j *Janitor) loop(ctx context.Context) {
	for {
		var wait time.Duration
		if j.schedule != nil {
			wait = time.Until(j.schedule.Next(time.Now()))
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = j.interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep()
		}
	}
}

// Sweep выполняет один проход: keep-alive активных сессий, затем эвикция.
func (j *Janitor) Sweep() {
	if j.keepAlive != nil {
		for _, id := range j.keepAlive() {
			j.store.Touch(id)
		}
	}

	evicted := j.store.Cleanup(time.Now())
	if len(evicted) > 0 {
		j.logger.Debug("janitor sweep evicted sessions", "ids", evicted)
	}
}
