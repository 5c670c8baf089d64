// Package syncer — синхронизатор общего контекста параллельной группы.
//
// Каждая группа несёт один общий контекст и одну стратегию доставки
// обновлений:
//   - immediate  — обновление применяется и рассылается сразу;
//   - batched    — обновления копятся и применяются одним слиянием
//     по достижении размера очереди либо по debounce-таймеру;
//   - checkpoint — обновления только копятся; применяет их
//     исключительно явный вызов Checkpoint.
//
// Применение обновления дописывает выводы, складывает веса тем и
// перезаписывает скалярные метрики (last-write-wins). Обновления
// одной группы сериализуются через per-key очередь.
package syncer
