package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"racesync/internal/model"
)

// ErrDrop marks a message that must not be redelivered.
var ErrDrop = errors.New("message dropped")

type Config struct {
	URL          string
	Exchange     string
	Queue        string
	InboundQueue string
}

type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	mu       sync.Mutex
	exchange string
	queue    string
	inbound  string
}

type Rabbiter interface {
	Close()
	Publish(ctx context.Context, routingKey string, message []byte) error
	Consume(queue string, handler func([]byte) error) error
}

// NewRabbit declares the topic exchange journal entries are mirrored to,
// a queue bound to every event on it, and the inbound queue the timing
// software pushes to.
func NewRabbit(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to connect to RabbitMQ")
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		zlog.Logger.Error().Err(err).Msg("failed to open RabbitMQ channel")
		return nil, err
	}

	client := &Client{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		queue:    cfg.Queue,
		inbound:  cfg.InboundQueue,
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		client.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare exchange")
		return nil, err
	}

	if cfg.Queue != "" {
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			client.Close()
			zlog.Logger.Error().Err(err).Msg("failed to declare queue")
			return nil, err
		}
		if err := ch.QueueBind(cfg.Queue, "event.#", cfg.Exchange, false, nil); err != nil {
			client.Close()
			zlog.Logger.Error().Err(err).Msg("failed to bind queue")
			return nil, err
		}
	}

	if cfg.InboundQueue != "" {
		if _, err := ch.QueueDeclare(cfg.InboundQueue, true, false, false, false, nil); err != nil {
			client.Close()
			zlog.Logger.Error().Err(err).Msg("failed to declare inbound queue")
			return nil, err
		}
	}

	zlog.Logger.Info().Msgf("RabbitMQ initialized (exchange=%s, queue=%s, inbound=%s)", cfg.Exchange, cfg.Queue, cfg.InboundQueue)

	return client, nil
}

func (c *Client) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	zlog.Logger.Info().Msg("RabbitMQ connection closed")
}

func (c *Client) InboundQueue() string { return c.inbound }

func (c *Client) Publish(ctx context.Context, routingKey string, message []byte) error {
	c.mu.Lock()
	err := c.channel.PublishWithContext(
		ctx,
		c.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
			Timestamp:    time.Now(),
		},
	)
	c.mu.Unlock()

	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to publish message to RabbitMQ")
	} else {
		zlog.Logger.Debug().Msgf("Message published to exchange=%s key=%s", c.exchange, routingKey)
	}
	return err
}

func RoutingKey(eventID int64, dataType model.DataType) string {
	return fmt.Sprintf("event.%d.%s", eventID, dataType)
}

// Mirror publishes a committed journal entry under its event's routing key.
func (c *Client) Mirror(ctx context.Context, eventID int64, entry model.JournalEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode change %d: %w", entry.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Publish(ctx, RoutingKey(eventID, entry.DataType), body)
}

// Consume acks handled messages. A failed message is requeued unless the
// handler wrapped ErrDrop.
func (c *Client) Consume(queue string, handler func([]byte) error) error {
	c.mu.Lock()
	msgs, err := c.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	c.mu.Unlock()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to start consuming messages")
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				requeue := !errors.Is(err, ErrDrop)
				zlog.Logger.Warn().Err(err).Bool("requeue", requeue).Msg("failed to process message")
				_ = d.Nack(false, requeue)
				continue
			}
			_ = d.Ack(false)
		}
	}()

	zlog.Logger.Info().Msgf("Started consuming from queue %s", queue)
	return nil
}
