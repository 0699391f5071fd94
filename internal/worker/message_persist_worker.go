// Package worker holds the RabbitMQ consumers: one persists chat messages,
// the other runs the document ingest pipeline.
package worker

import (
	"context"
	"encoding/json"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"classcare-chatbot/internal/model"
)

type MessageStore interface {
	Create(message *model.Message) error
}

// MessagePersistWorker drains the persist queue and writes chat messages to
// MySQL, keeping the request path free of synchronous inserts.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	store     MessageStore
	queueName string
}

func NewMessagePersistWorker(conn *amqp.Connection, store MessageStore, queueName string) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(d)
			}
		}
	}()
	return nil
}

func (w *MessagePersistWorker) handle(d amqp.Delivery) {
	var msg model.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("persist worker: drop malformed message: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.store.Create(&msg); err != nil {
		log.Printf("persist worker: save message for session %d failed: %v", msg.SessionID, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
