package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"classcare-chatbot/internal/model"
)

// QueuePublisher publishes JSON payloads to a durable queue, declaring it on
// every publish so producers and consumers can start in any order.
type QueuePublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewQueuePublisher(conn *amqp.Connection, queueName string) *QueuePublisher {
	return &QueuePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *QueuePublisher) publishJSON(ctx context.Context, payload interface{}) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish to queue failed: %w", err)
	}
	return nil
}

// MessagePublisher enqueues chat messages for async persistence.
type MessagePublisher struct {
	*QueuePublisher
}

func NewMessagePublisher(conn *amqp.Connection, queueName string) *MessagePublisher {
	return &MessagePublisher{QueuePublisher: NewQueuePublisher(conn, queueName)}
}

func (p *MessagePublisher) Publish(ctx context.Context, msg model.Message) error {
	return p.publishJSON(ctx, msg)
}

// IngestJobPublisher enqueues document-ingest jobs for the worker.
type IngestJobPublisher struct {
	*QueuePublisher
}

func NewIngestJobPublisher(conn *amqp.Connection, queueName string) *IngestJobPublisher {
	return &IngestJobPublisher{QueuePublisher: NewQueuePublisher(conn, queueName)}
}

func (p *IngestJobPublisher) Publish(ctx context.Context, job model.IngestJob) error {
	return p.publishJSON(ctx, job)
}
