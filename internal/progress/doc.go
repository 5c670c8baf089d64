// Package progress — координатор прогресса сессий и групп.
//
// Отчёты о прогрессе приходят от внешнего исполнителя шагов. Каждый
// отчёт проходит через per-session очередь сериализации (новый отчёт
// ждёт применения предыдущего по тому же ключу), записывается как
// последнее состояние сессии, пополняет скользящее окно длительностей
// шагов и рассылается трём кругам подписчиков: глобальным, групповым
// и сессионным.
//
// Завершение группы детектируется по счётчикам completed+failed;
// событие завершения испускается ровно один раз, после чего группа
// ставится в очередь на отложенную очистку. Таймеры очистки
// отменяются при Stop.
package progress
