package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/observability"
)

// Channel is the publishing side of an AMQP channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends persistent JSON messages to a queue through the default
// exchange. The tag travels in the x-type header.
type Publisher struct {
	ch    Channel
	queue string
}

// NewPublisher publishes on ch to queue.
func NewPublisher(ch Channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

// DialPublisher opens a dedicated connection for publishing. The returned
// func closes it.
func DialPublisher(url, queue string) (*Publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return NewPublisher(ch, queue), closeFn, nil
}

// Publish marshals v and sends it under tag.
func (p *Publisher) Publish(ctx context.Context, tag string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", tag, err)
	}
	headers := amqp.Table{HeaderType: tag}
	observability.InjectHeaders(ctx, headers)
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", tag, err)
	}
	relayPublished.WithLabelValues(tag).Inc()
	return nil
}

// MirroredTags are the bus events forwarded to the queue.
var MirroredTags = []string{
	events.TagMapPublished,
	events.TagMapArchived,
	events.TagMapUnarchived,
	events.TagPlaytestResolved,
}

// Subscribe forwards MirroredTags from bus to the queue.
func (p *Publisher) Subscribe(bus *events.Bus) {
	for _, tag := range MirroredTags {
		bus.Subscribe(tag, func(ctx context.Context, e events.Event) error {
			return p.Publish(ctx, e.Tag, e.Payload)
		})
	}
}
