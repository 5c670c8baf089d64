// Package planner генерирует планы выполнения техник.
//
// Структура:
//   - planner.go — валидация запроса, жадная кластеризация в группы,
//     синтетический convergence-план
//   - execgraph.go — клиентский граф выполнения: узлы-шаги, рёбра из
//     паттернов реестра, критический путь, оценка параллелизма
//
// Planner детерминирован: одинаковый запрос даёт одинаковые группы
// и одинаковый порядок шагов.
package planner
