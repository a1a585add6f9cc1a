package rabbitmq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"intake/internal/config"
)

// Client is a thin wrapper over one AMQP connection and channel, with
// automatic reconnect on connection loss.
type Client interface {
	Close() error

	DeclareExchange(name, kind string) error
	DeclareQueue(name string) (amqp.Queue, error)
	BindQueue(queueName, exchangeName, routingKey string) error

	Publish(exchange, routingKey string, body []byte, headers amqp.Table) error
	Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error)

	Health() error
}

type client struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	cfg         config.RabbitMQConfig
	mu          sync.Mutex
	closed      bool
	notifyClose chan *amqp.Error
}

// NewClientFromConfig connects to the broker described by cfg.
func NewClientFromConfig(cfg config.RabbitMQConfig) (Client, error) {
	c := &client{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.reconnectLoop()
	return c, nil
}

func (c *client) amqpURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.cfg.Username, c.cfg.Password, c.cfg.Host, c.cfg.Port, c.cfg.VHost)
}

func (c *client) connect() error {
	conn, err := amqp.Dial(c.amqpURL())
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	log.Info().
		Str("host", c.cfg.Host).
		Int("port", c.cfg.Port).
		Msg("Connected to RabbitMQ")
	return nil
}

// reconnectLoop re-establishes the connection whenever the broker closes
// it, until Close is called.
func (c *client) reconnectLoop() {
	for {
		c.mu.Lock()
		notify := c.notifyClose
		closed := c.closed
		c.mu.Unlock()

		if closed || notify == nil {
			return
		}

		amqpErr, ok := <-notify
		if !ok {
			return
		}

		c.mu.Lock()
		closed = c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		log.Warn().Err(amqpErr).Msg("RabbitMQ connection lost, reconnecting")
		for {
			if err := c.connect(); err == nil {
				break
			} else {
				log.Error().Err(err).Msg("RabbitMQ reconnect failed, will retry")
			}
		}
	}
}

func (c *client) currentChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, fmt.Errorf("rabbitmq channel not available")
	}
	return c.channel, nil
}

func (c *client) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	c.closed = true
	channel := c.channel
	conn := c.conn
	c.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *client) DeclareExchange(name, kind string) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.ExchangeDeclare(name, kind, true, false, false, false, nil)
}

func (c *client) DeclareQueue(name string) (amqp.Queue, error) {
	channel, err := c.currentChannel()
	if err != nil {
		return amqp.Queue{}, err
	}
	return channel.QueueDeclare(name, true, false, false, false, nil)
}

func (c *client) BindQueue(queueName, exchangeName, routingKey string) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.QueueBind(queueName, routingKey, exchangeName, false, nil)
}

func (c *client) Publish(exchange, routingKey string, body []byte, headers amqp.Table) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
}

func (c *client) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	channel, err := c.currentChannel()
	if err != nil {
		return nil, err
	}
	return channel.Consume(queueName, consumerTag, false, false, false, false, nil)
}
