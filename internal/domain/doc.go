// Package domain содержит основные типы предметной области Techne.
//
// Типы:
//   - session.go  — Session: одна сессия выполнения техники
//   - plan.go     — Plan: сгенерированный план выполнения техник
//   - group.go    — ParallelGroup: группа параллельных сессий
//   - progress.go — ProgressRecord: отчёт о прогрессе сессии
//   - context.go  — SharedContext: общий контекст группы
//   - status.go   — статусы и таблицы переходов (FSM)
//   - error.go    — таксономия ошибок движка (классификация, retry)
//   - id.go       — генерация и валидация идентификаторов
//
// Типы domain не содержат логики координации — только данные
// и переходы статусов. Координацией занимаются store, planner,
// progress, timeout, recovery, syncer, converge и engine.
package domain
