// Package store — реестр сессий и per-id блокировки.
//
// Структура:
//   - locks.go   — LockRegistry: FIFO-блокировка на идентификатор
//   - store.go   — Store: реестр сессий с TTL-эвикцией и политикой ёмкости
//   - janitor.go — Janitor: фоновый sweep (интервал или cron-выражение)
//
// Вся мутация сессии проходит через её блокировку; ожидающие
// обслуживаются строго в порядке захвата. ClearAll существует только
// для shutdown и тестов — вне teardown он небезопасен.
package store
