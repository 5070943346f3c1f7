package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPNotifier publishes messages to a durable topic exchange, using the
// message kind as routing key.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	exchange string
	logger   *slog.Logger
	now      func() time.Time
	declared bool
}

// NewAMQPNotifier dials RabbitMQ and opens a publishing channel.
func NewAMQPNotifier(rawURL, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange, logger: logger, now: time.Now}, nil
}

func newAMQPNotifierWithChannel(ch amqpChannel, exchange string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{channel: ch, exchange: exchange, logger: logger, now: time.Now}
}

// Send publishes the message as JSON. A failed publish reopens the channel
// once and retries.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.publish(ctx, message.Kind, body); err != nil {
		n.logger.Warn("publish failed; reopening channel", "exchange", n.exchange, "routing_key", message.Kind, "error", err)
		if reopenErr := n.reopen(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return n.publish(ctx, message.Kind, body)
	}
	return nil
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, body []byte) error {
	if !n.declared {
		if err := n.channel.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		n.declared = true
	}
	return n.channel.PublishWithContext(ctx, n.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    n.now(),
		Body:         body,
	})
}

func (n *AMQPNotifier) reopen() error {
	if n.conn == nil {
		return errors.New("no rabbitmq connection")
	}
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	n.channel = ch
	n.declared = false
	return nil
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), `"'`)
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
