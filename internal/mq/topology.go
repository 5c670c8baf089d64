package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRequests Exchange = "techne.requests"
	ExchangeEvents   Exchange = "techne.events"
	ExchangeDLQ      Exchange = "techne.dlq"
)

// Queues — имена очередей.
const (
	QueuePlanRequests Queue = "requests.plan"
	QueueStepRequests Queue = "requests.step"
	QueueDLQRequests  Queue = "dlq.requests"
)

// Routing keys.
const (
	RoutingKeyPlan        RoutingKey = "plan"
	RoutingKeyStep        RoutingKey = "step"
	RoutingKeyDLQRequests RoutingKey = "requests"

	// Ключи событий (topic exchange techne.events).
	RoutingKeyProgress RoutingKey = "session.progress"
	RoutingKeyTimeout  RoutingKey = "session.timeout"
	RoutingKeyGroup    RoutingKey = "group.completed"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRequests, "direct"},
		{ExchangeEvents, "topic"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRequests),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// requests.plan — с DLQ (невалидные запросы планирования уходят в DLQ)
		{QueuePlanRequests, dlqArgs},

		// requests.step — с DLQ (шаги могут уходить в DLQ после nack)
		{QueueStepRequests, dlqArgs},

		// dlq.requests — сама DLQ очередь
		{QueueDLQRequests, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueuePlanRequests, RoutingKeyPlan, ExchangeRequests},
		{QueueStepRequests, RoutingKeyStep, ExchangeRequests},
		{QueueDLQRequests, RoutingKeyDLQRequests, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Techne RabbitMQ Topology:

    techne.requests (direct)
    ├── requests.plan [routing: plan]
    │       Consumer: Engine
    │       DLQ: dlq.requests
    └── requests.step [routing: step]
            Consumer: Engine
            DLQ: dlq.requests

    techne.events (topic)
    ├── session.progress
    ├── session.timeout
    └── group.completed
            Consumers: external subscribers

    techne.dlq (direct)
    └── dlq.requests [routing: requests]
            Manual processing
  `
}
