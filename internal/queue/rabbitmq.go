package queue

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "dispatch.dlx"
	dialTimeout     = 10 * time.Second
	heartbeat       = 10 * time.Second
)

// amqpChannel is the part of *amqp.Channel the publisher relies on.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// channelSource hands out channels on a live broker connection.
type channelSource interface {
	channel(ctx context.Context) (amqpChannel, error)
	Close() error
}

// RabbitMQ holds the broker connection of a single dispatch run. A dropped
// connection is dialled again on the next publish.
type RabbitMQ struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewRabbitMQ dials the broker once. ctx bounds the TCP connect.
func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}

	return &RabbitMQ{url: url, conn: conn}, nil
}

func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	var (
		mu    sync.Mutex
		stops []func() bool
	)
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the AMQP handshake completes.
			if err := c.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
				_ = c.Close()
				return nil, err
			}
			// Cancelling ctx aborts a handshake the broker never answers.
			mu.Lock()
			stops = append(stops, context.AfterFunc(ctx, func() {
				_ = c.SetDeadline(time.Now())
			}))
			mu.Unlock()
			return c, nil
		},
	})

	mu.Lock()
	for _, stop := range stops {
		stop()
	}
	mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return conn, nil
}

func (r *RabbitMQ) channel(ctx context.Context) (amqpChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := dial(ctx, r.url)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// declareTopology declares the attempts queue and its dead-letter route.
func declareTopology(ch amqpChannel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	dlqName := DLQName(AttemptsQueueName)
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, AttemptsQueueName, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	if _, err := ch.QueueDeclare(AttemptsQueueName, true, false, false, false, topologyArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", AttemptsQueueName, err)
	}

	return nil
}

func topologyArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": AttemptsQueueName,
		"x-max-priority":            queueMaxPriority,
	}
}
