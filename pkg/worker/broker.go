package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/streadway/amqp"
)

// Broker holds the AMQP connection used to consume jobs and publish
// status updates.
type Broker struct {
	conn     *amqp.Connection
	consume  *amqp.Channel
	queue    string
	exchange string
}

// Dial connects to url, declares the job queue and the topic exchange
// status updates are published on.
func Dial(url, queue, exchange string) (*Broker, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}
	return &Broker{conn: conn, consume: ch, queue: queue, exchange: exchange}, nil
}

// Deliveries starts consuming with manual acks. prefetch bounds the
// unacknowledged jobs held by this process.
func (b *Broker) Deliveries(prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := b.consume.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	msgs, err := b.consume.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", b.queue, err)
	}
	return msgs, nil
}

// PublishStatus sends update to the exchange with routing key job.<id>.
// Each publish uses its own channel so workers never share one.
func (b *Broker) PublishStatus(ctx context.Context, update Update) error {
	if b.exchange == "" {
		return nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	return ch.Publish(b.exchange, "job."+update.JobID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close closes the connection and its channels.
func (b *Broker) Close() error {
	return b.conn.Close()
}
