package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/metrics"
	"whatslog/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var errNotConfirmed = errors.New("broker did not confirm publish")

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	return c.Connection.Channel()
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type PublisherConfig struct {
	URL      string
	Exchange string
	Producer string
	Timeout  time.Duration
}

// AMQPPublisher publishes stored messages to a durable topic exchange with
// publisher confirms. A broken connection is re-established on the next
// publish.
type AMQPPublisher struct {
	config PublisherConfig
	logger *logrus.Logger
	dial   func(url string) (connection, error)

	mu   sync.Mutex
	conn connection
	ch   channel
}

func NewAMQPPublisher(ctx context.Context, cfg PublisherConfig, logger *logrus.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(ctx, cfg, logger, dialAMQP)
}

func newAMQPPublisher(ctx context.Context, cfg PublisherConfig, logger *logrus.Logger, dial func(string) (connection, error)) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = constants.DefaultEventsExchange
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultPublishTimeoutSec) * time.Second
	}

	p := &AMQPPublisher{
		config: cfg,
		logger: logger,
		dial:   dial,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	p.closeLocked()

	conn, err := p.dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.config.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.config.Exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.logger.WithField("exchange", p.config.Exchange).Info("Connected to message broker")
	return nil
}

// PublishMessageStored publishes msg and waits for the broker confirm.
func (p *AMQPPublisher) PublishMessageStored(ctx context.Context, msg *models.StoredMessage) error {
	if msg == nil {
		return nil
	}

	env := NewMessageStoredEnvelope(ctx, p.config.Producer, msg)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() || p.conn == nil || p.conn.IsClosed() {
		if err := p.connectLocked(); err != nil {
			metrics.IncrementCounter("message_events_failed_total", map[string]string{"reason": "connect"}, "Message events that failed to publish")
			return err
		}
	}

	routingKey := RoutingKey(msg.InstanceName)
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.config.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.OccurredAt,
		AppId:         p.config.Producer,
	})
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait for confirm: %w", err)
		}
		if !acked {
			return errNotConfirmed
		}
	}

	metrics.IncrementCounter("message_events_published_total", nil, "Message events published")
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishMessageStored(context.Context, *models.StoredMessage) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
