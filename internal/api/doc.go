// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go         — Handler с DI (движок, архив снапшотов, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - plan_handler.go    — обработчики для /plans
//   - step_handler.go    — обработчики для /steps
//   - session_handler.go — обработчики для /sessions и /snapshots
//   - group_handler.go   — обработчики для /groups
//
// API предоставляет REST endpoints поверх движка: построение планов,
// регистрация шагов, чтение сессий, групп и архива снапшотов.
package api
