// Package graph реализует граф зависимостей техник и сессий.
//
// Включает:
//   - обратный индекс для поиска зависимых узлов
//   - поиск циклов (DFS с трёхцветной раскраской)
//   - топологическую сортировку подмножества узлов (алгоритм Кана)
//
// Узлы — идентификаторы техник или сессий; ребро from → to означает
// «to зависит от завершения from». Отсутствие полного топологического
// порядка — сигнал цикла, а не ошибка.
package graph
