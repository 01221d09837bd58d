package rabbit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"
)

var ErrConsumerLost = errors.New("rabbitmq consumer lost")

type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
}

type Rabbiter interface {
	Close()
	Publish(ctx context.Context, routingKey string, message []byte) error
	Consume(routingKey string, handler func([]byte) error) (*Consumer, error)
}

// NewRabbit connects and declares the durable topic exchange changes are fanned out on.
func NewRabbit(url, exchange string) (*Client, error) {
	conn, err := amqp.Dial(url)
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
		exchange: exchange,
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to declare exchange")
		client.Close()
		return nil, err
	}

	zlog.Logger.Info().Msgf("RabbitMQ initialized (exchange=%s)", exchange)

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

func (c *Client) Publish(ctx context.Context, routingKey string, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
			Timestamp:   time.Now(),
		},
	)

	if err != nil {
		zlog.Logger.Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish message to RabbitMQ")
	} else {
		zlog.Logger.Debug().Msgf("Message published to exchange=%s key=%s", c.exchange, routingKey)
	}
	return err
}

// Consumer is one exclusive, auto-deleted queue bound to a routing key.
type Consumer struct {
	channel *amqp.Channel
	done    chan struct{}
	closed  atomic.Bool
	err     error
}

// Consume opens a dedicated channel and delivers messages to handler from a
// single goroutine. Messages the handler rejects are dropped, not requeued.
func (c *Client) Consume(routingKey string, handler func([]byte) error) (*Consumer, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to open RabbitMQ channel")
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		zlog.Logger.Error().Err(err).Msg("failed to declare queue")
		return nil, err
	}

	if err := ch.QueueBind(
		q.Name,
		routingKey,
		c.exchange,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		zlog.Logger.Error().Err(err).Msg("failed to bind queue")
		return nil, err
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		zlog.Logger.Error().Err(err).Msg("failed to start consuming messages")
		return nil, err
	}

	consumer := &Consumer{channel: ch, done: make(chan struct{})}

	go func() {
		defer close(consumer.done)
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				zlog.Logger.Warn().Msgf("failed to process message: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
		if !consumer.closed.Load() {
			consumer.err = ErrConsumerLost
		}
	}()

	zlog.Logger.Info().Msgf("Started consuming from queue %s (key=%s)", q.Name, routingKey)
	return consumer, nil
}

// Close stops delivery and waits for the handler to return. It must not be
// called from inside the handler.
func (c *Consumer) Close() {
	if !c.closed.Swap(true) {
		_ = c.channel.Close()
	}
	<-c.done
}

func (c *Consumer) Done() <-chan struct{} { return c.done }

// Err is only meaningful after Done is closed.
func (c *Consumer) Err() error { return c.err }
