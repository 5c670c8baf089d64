// Package timeout — монитор таймаутов сессий.
//
// Каждая наблюдаемая сессия несёт два независимых таймера. Таймер
// выполнения срабатывает, если сессия не перешла в WAITING: монитор
// синтезирует failed-отчёт о прогрессе и снимает сессию с наблюдения.
// Переход в WAITING отменяет таймер выполнения и взводит таймер
// ожидания зависимостей; его срабатывание — совещательное событие,
// сессия остаётся под наблюдением.
//
// Грубый sweep (раз в секунду) дополнительно испускает раннее
// предупреждение на 80% бюджета и совещательный сигнал устаревшего
// прогресса. Истечение таймаута — единственное принудительное
// завершение в движке: оно моделируется статусом failed, а не
// остановкой выполняющейся работы.
//
// Все таймеры отменяются при Stop и при снятии сессии с наблюдения.
package timeout
