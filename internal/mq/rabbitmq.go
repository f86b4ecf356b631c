package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smarthatch/authserver/config"
)

// RabbitMQClient publishes each channel to a fanout exchange of the same
// name. Every consumer group binds its own queue, "<channel>.<consumer>",
// so all groups receive every event.
type RabbitMQClient struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	consumer     string
	queueDurable bool
	autoDelete   bool

	mu        sync.Mutex
	exchanges map[string]bool
}

// NewRabbitMQClient dials RabbitMQ and opens a channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = "smarthatch-auth"
	}

	return &RabbitMQClient{
		conn:         conn,
		channel:      ch,
		consumer:     consumer,
		queueDurable: cfg.QueueDurable,
		autoDelete:   cfg.QueueAutoDelete,
		exchanges:    make(map[string]bool),
	}, nil
}

// Publish sends a message to the channel's exchange. The ordering key, if
// any, becomes the correlation id.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	publishing := amqp.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{},
		Body:         data,
	}
	if r.queueDurable {
		publishing.DeliveryMode = amqp.Persistent
	}
	for key, value := range attrs {
		switch key {
		case AttrContentType:
			publishing.ContentType = value
		case AttrOrderingKey:
			publishing.CorrelationId = value
		default:
			publishing.Headers[key] = value
		}
	}

	// amqp channels are not safe for concurrent publishing.
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.declareExchangeLocked(channel); err != nil {
		return "", err
	}
	if err := r.channel.PublishWithContext(ctx, channel, "", false, false, publishing); err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return publishing.MessageId, nil
}

// Subscribe consumes from this client's queue bound to the channel exchange.
// Failed messages are requeued.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	queue := channel + "." + r.consumer
	consumerTag := "consumer-" + uuid.NewString()

	r.mu.Lock()
	deliveries, err := r.bindAndConsumeLocked(channel, queue, consumerTag)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := handler(ctx, deliveryToMessage(delivery)); err != nil {
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the channel and connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) bindAndConsumeLocked(exchange, queue, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := r.declareExchangeLocked(exchange); err != nil {
		return nil, err
	}
	if _, err := r.channel.QueueDeclare(queue, r.queueDurable, r.autoDelete, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := r.channel.QueueBind(queue, "", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return r.channel.Consume(queue, consumerTag, false, false, false, false, nil)
}

func (r *RabbitMQClient) declareExchangeLocked(name string) error {
	if r.exchanges[name] {
		return nil
	}
	if err := r.channel.ExchangeDeclare(name, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	r.exchanges[name] = true
	return nil
}

func deliveryToMessage(d amqp.Delivery) Message {
	attrs := make(map[string]string, len(d.Headers)+2)
	for key, value := range d.Headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	if d.ContentType != "" {
		attrs[AttrContentType] = d.ContentType
	}
	if d.CorrelationId != "" {
		attrs[AttrOrderingKey] = d.CorrelationId
	}
	return Message{ID: d.MessageId, Data: d.Body, Attributes: attrs}
}
