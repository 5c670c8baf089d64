// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//
// Prometheus-метрики объявляются на уровне бинарника (cmd/techne-engine)
// и экспортируются на /metrics endpoint.
package telemetry
