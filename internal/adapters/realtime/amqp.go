package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"handoff-engine/internal/core/domain"
)

const maxDialDelay = 60 * time.Second

// AMQPOptions configures the topic-exchange sink
type AMQPOptions struct {
	URL           string
	Exchange      string
	Producer      string
	RetryAttempts int
	Delay         time.Duration
}

// AMQPPublisher publishes events to a durable topic exchange with
// routing key <projectId>.<event type>
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	producer string
}

// DialWithRetry connects with exponential backoff, giving up when ctx is cancelled
func DialWithRetry(ctx context.Context, url string, attempts int, delay time.Duration) (*amqp091.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			if i > 1 {
				slog.Info("AMQP connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err

		if i == attempts {
			break
		}
		sleep := delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		slog.Warn("AMQP dial failed",
			"attempt", i,
			"sleep", sleep,
			"error", err,
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to AMQP after %d attempts: %w", attempts, lastErr)
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(ctx context.Context, opts AMQPOptions) (*AMQPPublisher, error) {
	conn, err := DialWithRetry(ctx, opts.URL, opts.RetryAttempts, opts.Delay)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		producer: opts.Producer,
	}, nil
}

// Notify implements ports.Notifier
func (p *AMQPPublisher) Notify(ctx context.Context, event domain.Event) error {
	body, err := encode(event, p.producer)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	key := RoutingKey(event)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.OccurredAt,
		Type:          string(event.Type),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	slog.Debug("Event published", "key", key, "exchange", p.exchange)
	return nil
}

// Close closes the broker connection
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
