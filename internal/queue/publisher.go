package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher sends one persistent message per recorded attempt to the
// attempts queue. The topology is declared on the first publish.
type RabbitMQPublisher struct {
	client channelSource
	queue  string
	now    func() time.Time

	mu       sync.Mutex
	declared bool
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	p := &RabbitMQPublisher{queue: AttemptsQueueName, now: time.Now}
	if client != nil {
		p.client = client
	}
	return p
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event AttemptEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid attempt event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := p.ensureTopology(ch); err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, p.publishing(event, payload)); err != nil {
		return fmt.Errorf("failed to publish attempt event to queue %q: %w", p.queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) ensureTopology(ch amqpChannel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declared {
		return nil
	}
	if err := declareTopology(ch); err != nil {
		return err
	}
	p.declared = true
	return nil
}

func (p *RabbitMQPublisher) publishing(event AttemptEvent, payload []byte) amqp.Publishing {
	now := time.Now
	if p.now != nil {
		now = p.now
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now().UTC(),
		MessageId:     event.MessageID(),
		CorrelationId: event.correlationID(),
		Type:          event.Kind.String(),
		Priority:      PriorityValue(event),
		Headers:       amqp.Table{"x-run-id": event.RunID},
		Body:          payload,
	}
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
