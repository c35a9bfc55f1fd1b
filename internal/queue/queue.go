package queue

import (
	"context"
	"fmt"
)

// Publisher publishes attempt events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event AttemptEvent) error
	Close() error
}

const (
	// AttemptsQueueName receives one event per recorded attempt.
	AttemptsQueueName = "dispatch.attempts"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the attempts queue.
	queueMaxPriority int32 = 2
)

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.dispatch.attempts.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// PriorityValue maps an event to its RabbitMQ message priority. Failed
// attempts are delivered ahead of successful ones.
func PriorityValue(event AttemptEvent) uint8 {
	if event.Succeeded {
		return 1
	}
	return 2
}
