package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyroom/internal/logging"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const forwardQueueSize = 256

// channelPublisher is the part of *amqp.Channel the forwarder needs.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder copies bus events to a RabbitMQ topic exchange, using the
// event type as routing key. Publishing happens on a background goroutine so
// bus handlers never block on the broker.
type AMQPForwarder struct {
	conn     *amqp.Connection
	channel  channelPublisher
	exchange string
	logger   *zerolog.Logger
	queue    chan *Event

	closeOnce sync.Once
	done      chan struct{}
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	f := newForwarder(ch, exchange, logger)
	f.conn = conn
	return f, nil
}

func newForwarder(ch channelPublisher, exchange string, logger *zerolog.Logger) *AMQPForwarder {
	return &AMQPForwarder{
		channel:  ch,
		exchange: exchange,
		logger:   logging.Component(logger, "events"),
		queue:    make(chan *Event, forwardQueueSize),
		done:     make(chan struct{}),
	}
}

// Attach subscribes the forwarder to every lifecycle event on bus.
func (f *AMQPForwarder) Attach(bus *EventBus) {
	bus.SubscribeAll(f.enqueue)
}

func (f *AMQPForwarder) enqueue(event *Event) error {
	select {
	case f.queue <- event:
		return nil
	default:
		f.logger.Warn().Str("event", event.Type).Msg("event forward queue full, dropping event")
		return errors.New("forward queue full")
	}
}

// Run publishes queued events until ctx is done, then drains what is left.
func (f *AMQPForwarder) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-f.queue:
					f.publish(context.Background(), event)
				default:
					return
				}
			}
		case event := <-f.queue:
			f.publish(ctx, event)
		}
	}
}

func (f *AMQPForwarder) publish(ctx context.Context, event *Event) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.CreatedAt.UTC(),
		Type:         event.Type,
		Body:         event.Payload,
	}
	if err := f.channel.PublishWithContext(pubCtx, f.exchange, event.Type, false, false, msg); err != nil {
		f.logger.Error().Err(err).Str("event", event.Type).Msg("failed to forward event")
		return
	}
	f.logger.Debug().Str("event", event.Type).Msg("event forwarded")
}

// Close waits for Run to finish draining and closes the broker connection.
func (f *AMQPForwarder) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		select {
		case <-f.done:
		case <-ctx.Done():
		}
		err = f.channel.Close()
		if f.conn != nil {
			if cerr := f.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
