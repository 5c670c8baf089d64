// Package recovery — повтор операций и обработка частичного завершения.
//
// Retryer повторяет retryable-операции с экспоненциальной задержкой
// base × 2^(n−1), ограниченной потолком. Ошибки валидации и порядка
// вызовов не повторяются никогда: они всплывают сразу с шагами
// восстановления.
//
// Handler срабатывает, когда параллельная группа сообщает об упавших
// сессиях: категоризирует участников, помечает критические падения
// (по числу зависимых сессий) и выбирает ровно одну стратегию —
// продолжить с имеющимися результатами, повторить критические сессии,
// деградировать к упрощённой конвергенции или прервать группу.
package recovery
