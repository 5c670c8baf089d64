// Package converge — синтез результатов параллельных сессий.
//
// Небольшая машина, индексированная номером шага синтетической техники
// convergence:
//
//	шаг 1 — сбор выводов и разбивка по техникам-источникам;
//	шаг 2 — выделение тем (частотные токены длиннее четырёх символов)
//	        и оценка числа конфликтов долей от числа источников;
//	шаг 3 — финальный синтез по стратегии merge / select / hierarchical;
//	шаги дальше — открытые проходы углубления.
//
// Требуется хотя бы один результат параллельной сессии; без них шаг
// завершается ошибкой отсутствующего параметра. Содержимое выводов
// для движка непрозрачно: токенизация — единственная эвристика,
// которая в него заглядывает.
package converge
