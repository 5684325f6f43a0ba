package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/opensource-finance/kite/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the subset of *amqp.Channel the messenger uses.
type publisher interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPMessenger publishes email and SMS requests to a RabbitMQ topic
// exchange for the delivery service to consume.
type AMQPMessenger struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  publisher
	exchange string
}

// NewAMQPMessenger connects to RabbitMQ and declares the exchange.
func NewAMQPMessenger(amqpURL, exchange string) (*AMQPMessenger, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	m, err := newAMQPMessenger(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	m.conn = conn

	slog.Info("connected to rabbitmq", "exchange", exchange)
	return m, nil
}

func newAMQPMessenger(ch publisher, exchange string) (*AMQPMessenger, error) {
	if exchange == "" {
		exchange = "kite.notifications"
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPMessenger{channel: ch, exchange: exchange}, nil
}

// SendEmail publishes an email request.
func (m *AMQPMessenger) SendEmail(ctx context.Context, msg *domain.EmailMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	return m.publish(ctx, RoutingKeyEmail, msg.ID, msg)
}

// SendSMS publishes an SMS request.
func (m *AMQPMessenger) SendSMS(ctx context.Context, msg *domain.SMSMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	return m.publish(ctx, RoutingKeySMS, msg.ID, msg)
}

func (m *AMQPMessenger) publish(ctx context.Context, routingKey, messageID string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.channel.PublishWithContext(ctx,
		m.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         payload,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	slog.Debug("message published", "exchange", m.exchange, "routing_key", routingKey, "message_id", messageID)
	return nil
}

// Close closes the channel and connection.
func (m *AMQPMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.channel != nil {
		errs = append(errs, m.channel.Close())
	}
	if m.conn != nil {
		errs = append(errs, m.conn.Close())
	}
	return errors.Join(errs...)
}

// sanitizeAMQPURL strips quotes and whitespace that env files tend to add
// and checks the scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
