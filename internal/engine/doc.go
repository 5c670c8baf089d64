// Package engine — корень композиции и фасад движка.
//
// Engine собирает полный граф компонентов в порядке зависимостей
// (store → registry → planner → coordinator → monitor → syncer →
// converger → recovery) и связывает их при конструировании: монитор
// подписан на отчёты координатора, завершение группы запускает
// обработчик частичного завершения.
//
// Наружу фасад выставляет две логические операции:
//   - Plan — генерация плана: создание сессий и групп, регистрация
//     в координаторе, мониторе и синхронизаторе.
//   - Step — один шаг выполнения техники: запись шага в сессию,
//     отчёт о прогрессе, waiting-ответ при незавершённых жёстких
//     зависимостях, шаги синтеза для техники convergence.
//
// Процесс-уровневый lifecycle: один Engine на процесс, Start
// запускает фоновые циклы (janitor, монитор), Shutdown гасит их
// в обратном порядке и освобождает все блокировки. Тесты собирают
// свежие экземпляры вместо сброса глобального состояния.
package engine
