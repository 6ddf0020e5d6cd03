// Package ingest notifies the downstream ingestion service about uploaded
// and validated files.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange ingest listens on.
const DefaultExchange = "ingest.upload.exchange"

// Kind is the type of a notification.
type Kind int

const (
	FileUploaded Kind = iota + 1
	FileValidated
)

func (k Kind) String() string {
	switch k {
	case FileUploaded:
		return "file_uploaded"
	case FileValidated:
		return "file_validated"
	default:
		return "unknown"
	}
}

// RoutingKey is the AMQP routing key a notification of this kind is published with.
func (k Kind) RoutingKey() (string, error) {
	switch k {
	case FileUploaded:
		return "file.uploaded", nil
	case FileValidated:
		return "file.validated", nil
	default:
		return "", fmt.Errorf("unknown notification kind %d", int(k))
	}
}

// Message is the body of every notification.
type Message struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	FileID  int64     `json:"file_id,omitempty"`
	SentAt  time.Time `json:"sent_at"`
	Payload any       `json:"payload"`
}

// Notifier delivers notifications to ingest.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, fileID int64, payload any) error
}

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dialer opens a channel with the exchange declared. closed is signalled
// when the underlying connection goes away.
type Dialer func(url, exchange string) (ch Publisher, conn io.Closer, closed <-chan *amqp.Error, err error)

// AMQPNotifier publishes notifications to a RabbitMQ exchange. When it
// was created by DialAMQP it reconnects after the connection drops.
type AMQPNotifier struct {
	mu       sync.Mutex
	url      string
	dial     Dialer
	conn     io.Closer
	ch       Publisher
	closed   <-chan *amqp.Error
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to url and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	return DialAMQPWith(url, exchange, dialAMQP, logger)
}

// DialAMQPWith is DialAMQP with a custom dialer, used for every reconnect.
func DialAMQPWith(url, exchange string, dial Dialer, logger *slog.Logger) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	n := &AMQPNotifier{url: url, dial: dial, exchange: exchange, logger: logger}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func dialAMQP(url, exchange string) (Publisher, io.Closer, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to ingest amqp server: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	// Buffered so the library never blocks delivering the close reason.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return ch, conn, closed, nil
}

// NewAMQPNotifier publishes through an existing channel. It never reconnects.
func NewAMQPNotifier(ch Publisher, exchange string, logger *slog.Logger) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPNotifier{ch: ch, exchange: exchange, logger: logger}
}

// connect replaces the channel. n.mu must be held once n is shared.
func (n *AMQPNotifier) connect() error {
	ch, conn, closed, err := n.dial(n.url, n.exchange)
	if err != nil {
		return err
	}
	n.ch, n.conn, n.closed = ch, conn, closed
	return nil
}

// broken reports whether the connection behind n.ch was closed.
func (n *AMQPNotifier) broken() bool {
	if n.ch == nil {
		return true
	}
	select {
	case reason := <-n.closed:
		if reason != nil {
			n.logger.Warn("ingest amqp connection closed", "code", reason.Code, "reason", reason.Reason)
		}
		n.closed = nil
		return true
	default:
		return false
	}
}

func (n *AMQPNotifier) reconnect() error {
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.ch, n.conn, n.closed = nil, nil, nil
	n.logger.Info("reconnecting to ingest amqp server")
	return n.connect()
}

func (n *AMQPNotifier) Notify(ctx context.Context, kind Kind, fileID int64, payload any) error {
	key, err := kind.RoutingKey()
	if err != nil {
		return err
	}

	msg := Message{
		ID:      uuid.NewString(),
		Type:    kind.String(),
		FileID:  fileID,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", kind, err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.SentAt,
		Type:         msg.Type,
		Body:         body,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dial != nil && n.broken() {
		if err := n.reconnect(); err != nil {
			return fmt.Errorf("failed to publish %s notification: %w", kind, err)
		}
	}
	if n.ch == nil {
		return fmt.Errorf("failed to publish %s notification: %w", kind, amqp.ErrClosed)
	}
	err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, publishing)
	if n.dial != nil && errors.Is(err, amqp.ErrClosed) {
		// The close notice can trail the failed publish; retry once on a fresh channel.
		if err = n.reconnect(); err == nil {
			err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, publishing)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", kind, err)
	}

	n.logger.Info("notified ingest", "type", msg.Type, "file_id", fileID, "message_id", msg.ID)
	return nil
}

// Close closes the connection opened by DialAMQP.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn, n.ch, n.closed = nil, nil, nil
	n.dial = nil
	return err
}

// LogNotifier only logs notifications. It is used when no ingest server is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, kind Kind, fileID int64, payload any) error {
	n.Logger.Info("ingest notification (not delivered)", "type", kind.String(), "file_id", fileID, "payload", payload)
	return nil
}
