package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypePlanRequest    MessageType = "request.plan"
	MessageTypeStepRequest    MessageType = "request.step"
	MessageTypeProgress       MessageType = "event.progress"
	MessageTypeTimeout        MessageType = "event.timeout"
	MessageTypeGroupCompleted MessageType = "event.group_completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// PlanRequestPayload — payload для запроса планирования.
type PlanRequestPayload struct {
	Problem     string   `json:"problem"`
	Techniques  []string `json:"techniques,omitempty"`
	Mode        string   `json:"execution_mode,omitempty"`
	Strategy    string   `json:"convergence_strategy,omitempty"`
	MaxInsights int      `json:"max_insights,omitempty"`
}

// StepRequestPayload — payload для шага сессии.
type StepRequestPayload struct {
	SessionID      string `json:"session_id,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	Technique      string `json:"technique"`
	Problem        string `json:"problem,omitempty"`
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	Output         string `json:"output"`
	NextStepNeeded bool   `json:"next_step_needed"`
}

// ProgressPayload — payload события прогресса сессии.
type ProgressPayload struct {
	SessionID   string `json:"session_id"`
	GroupID     string `json:"group_id,omitempty"`
	Status      string `json:"status"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

// TimeoutPayload — payload события таймаута сессии.
type TimeoutPayload struct {
	SessionID   string `json:"session_id"`
	Kind        string `json:"kind"` // execution, dependency, warning, stale
	ElapsedMs   int64  `json:"elapsed_ms"`
	ThresholdMs int64  `json:"threshold_ms"`
}

// GroupCompletedPayload — payload события завершения группы.
type GroupCompletedPayload struct {
	GroupID   string   `json:"group_id"`
	Success   bool     `json:"success"`
	Completed []string `json:"completed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishProgress публикует событие прогресса сессии.
// Потребители: внешние подписчики techne.events.
func (p *Publisher) PublishProgress(ctx context.Context, payload ProgressPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProgress,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyProgress, msg)
}

// PublishTimeout публикует событие таймаута сессии.
func (p *Publisher) PublishTimeout(ctx context.Context, payload TimeoutPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTimeout,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyTimeout, msg)
}

// PublishGroupCompleted публикует событие завершения параллельной группы.
func (p *Publisher) PublishGroupCompleted(ctx context.Context, payload GroupCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeGroupCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyGroup, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
