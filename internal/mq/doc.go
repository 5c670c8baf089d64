// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - request.plan          — запрос на генерацию плана
//   - request.step          — шаг выполнения техники
//   - event.progress        — прогресс сессии
//   - event.timeout         — таймаут сессии
//   - event.group_completed — завершение параллельной группы
//
// Exchanges:
//   - techne.requests — входящие запросы (plan, step)
//   - techne.events   — исходящие события (topic)
//   - techne.dlq      — dead letter queue
package mq
