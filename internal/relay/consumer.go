package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/genji-bot/internal/observability"
)

// Delivery is the part of an AMQP delivery the consumer needs.
type Delivery interface {
	MessageID() string
	Headers() map[string]any
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

type amqpDelivery struct{ d amqp.Delivery }

func (a amqpDelivery) MessageID() string       { return a.d.MessageId }
func (a amqpDelivery) Headers() map[string]any { return a.d.Headers }
func (a amqpDelivery) Body() []byte            { return a.d.Body }
func (a amqpDelivery) Ack() error              { return a.d.Ack(false) }
func (a amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

// Handler processes envelopes; *Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (string, error)
}

// Consumer reads the durable relay queue and hands each delivery to the
// handler. It reconnects with a fixed backoff until ctx is cancelled.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Backoff  time.Duration
	Handler  Handler
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Error().Err(err).Str("event", "relay_consumer_down").Dur("retry_in", backoff).Msg("relay consumer stopped")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	prefetch := c.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.Queue, err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.Queue, err)
	}
	log.Info().Str("event", "relay_consumer_started").Str("queue", c.Queue).Int("prefetch", prefetch).Msg("relay consumer started")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case aerr := <-closed:
			if aerr == nil {
				return errors.New("connection closed")
			}
			return aerr
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Process(ctx, amqpDelivery{d})
		}
	}
}

// Process handles one delivery: ack on success, requeue on a handler error,
// and reject without requeue when the envelope is unusable.
func (c *Consumer) Process(ctx context.Context, d Delivery) {
	env, err := EnvelopeFrom(d.MessageID(), d.Headers(), d.Body())
	if err != nil {
		relayMessages.WithLabelValues("", OutcomeDropped).Inc()
		log.Error().Err(err).Str("event", "relay_bad_envelope").Str("message_id", d.MessageID()).Msg("rejecting delivery")
		if nerr := d.Nack(false); nerr != nil {
			log.Error().Err(nerr).Msg("nack failed")
		}
		return
	}

	ctx = observability.ExtractHeaders(ctx, d.Headers())
	outcome, err := c.Handler.Handle(ctx, env)
	if err != nil {
		log.Error().Err(err).Str("event", "relay_handle_failed").Str("tag", env.Tag).Str("message_id", env.ID).Msg("requeueing delivery")
		if nerr := d.Nack(true); nerr != nil {
			log.Error().Err(nerr).Msg("nack failed")
		}
		return
	}
	log.Debug().Str("tag", env.Tag).Str("outcome", outcome).Msg("relay delivery processed")
	if aerr := d.Ack(); aerr != nil {
		log.Error().Err(aerr).Str("tag", env.Tag).Msg("ack failed")
	}
}
