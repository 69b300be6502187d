// Package rabbitmq publishes JSON messages to a topic exchange.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
)

const defaultExchange = "billing.subscription.events"

// Publisher sends a payload with a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.SugaredLogger
	mu       sync.Mutex
}

func NewRabbitMQPublisher(url, exchange string, l *zap.SugaredLogger) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	l.Infow("RabbitMQ publisher connected", "exchange", exchange)
	return &RabbitMQPublisher{conn: conn, channel: ch, exchange: exchange, log: l}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.log.Debugw("message published", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warnw("error closing channel", "error", err)
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops messages; used when no broker is configured.
type NoopPublisher struct {
	log *zap.SugaredLogger
}

func NewNoopPublisher(l *zap.SugaredLogger) *NoopPublisher {
	return &NoopPublisher{log: l}
}

func (p *NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.log.Debugw("noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

// New connects to rabbitmq.url. An empty url or an unreachable broker yields
// a NoopPublisher: lifecycle events are never allowed to block billing.
func New(lc fx.Lifecycle, cfg *config.Config, l *zap.SugaredLogger) Publisher {
	if cfg.RabbitMQ.URL == "" {
		l.Infow("rabbitmq url not configured, lifecycle events disabled")
		return NewNoopPublisher(l)
	}
	p, err := NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, l)
	if err != nil {
		l.Warnw("rabbitmq unavailable, lifecycle events disabled", "error", err)
		return NewNoopPublisher(l)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return p.Close() }})
	return p
}

var Module = fx.Options(
	fx.Provide(New),
)
