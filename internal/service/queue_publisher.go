// Package queue_publisher provides the RabbitMQ publisher for domain
// events.  Errors are logged and returned so callers can ignore
// failures without interrupting the main request flow.
package queue_publisher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes domain events to durable queues on the default
// exchange, one queue per routing key.  A fresh connection is dialed
// per publish; booking volume is low enough that simplicity wins over
// connection pooling, and a broker outage then degrades a single
// publish instead of poisoning shared state.
type Publisher struct {
	URL string
}

// New returns a Publisher for the given broker URL.
func New(url string) *Publisher { return &Publisher{URL: url} }

// Publish marshals the payload and delivers it to the queue named by
// the routing key.  The queue is declared durable before publishing so
// messages survive broker restarts even when the consumer has not
// started yet.  The function never panics; any error is logged and
// returned for the caller to ignore.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		routingKey, // name
		true,       // durable
		false,      // autoDelete
		false,      // exclusive
		false,      // noWait
		nil,        // args
	); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",         // default exchange
		routingKey, // routing key = queue name
		false,      // mandatory
		false,      // immediate
		pub,
	); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}

	return nil
}
