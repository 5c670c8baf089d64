// Package registry — реестр техник: внешний коллаборатор движка.
//
// Движок не знает содержимого шагов техник; из реестра он берёт только:
//   - количество и валидность шагов
//   - таблицу стоимости (память, время) для оценки ресурсов
//   - жёсткие зависимости и взаимные исключения пар техник
//   - паттерн зависимостей шагов (parallel / sequential / hybrid)
//
// Встроенный каталог покрывает стандартный набор техник; Register
// позволяет добавлять свои.
package registry
