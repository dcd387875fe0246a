package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher performs one-shot publishes. Each call opens and closes its own
// connection; project creation publishes exactly once, so a pooled channel
// buys nothing.
type Publisher struct {
	auth *BrokerAuth
}

func NewPublisher(auth *BrokerAuth) *Publisher {
	return &Publisher{auth: auth}
}

// Publish declares queueName durable and sends body as a persistent JSON
// message, so the message survives a broker restart.
func (p *Publisher) Publish(ctx context.Context, queueName string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	conn, err := p.auth.Dial()
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queueName, err)
	}

	err = ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}
