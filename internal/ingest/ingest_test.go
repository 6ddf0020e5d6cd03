package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAMQPNotifier_Notify(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAMQPNotifier(pub, "", discard())

	err := n.Notify(context.Background(), FileUploaded, 42, map[string]string{"name": "a.txt"})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	sent := pub.sent[0]
	assert.Equal(t, DefaultExchange, sent.exchange)
	assert.Equal(t, "file.uploaded", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	var body struct {
		Type    string            `json:"type"`
		FileID  int64             `json:"file_id"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	assert.Equal(t, "file_uploaded", body.Type)
	assert.EqualValues(t, 42, body.FileID)
	assert.Equal(t, "a.txt", body.Payload["name"])
}

func TestAMQPNotifier_RoutingKeys(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAMQPNotifier(pub, "custom", discard())

	require.NoError(t, n.Notify(context.Background(), FileValidated, 1, nil))
	assert.Equal(t, "custom", pub.sent[0].exchange)
	assert.Equal(t, "file.validated", pub.sent[0].key)

	require.Error(t, n.Notify(context.Background(), Kind(99), 1, nil))
}

func TestAMQPNotifier_PublishError(t *testing.T) {
	n := NewAMQPNotifier(&fakePublisher{err: errors.New("channel closed")}, "", discard())
	require.Error(t, n.Notify(context.Background(), FileUploaded, 1, nil))
}

type fakeConn struct{ closes int }

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

// fakeBroker hands out a fresh channel per dial and lets tests drop the
// current connection.
type fakeBroker struct {
	dials    int
	dialErr  error
	channels []*fakePublisher
	conns    []*fakeConn
	closed   []chan *amqp.Error
}

func (b *fakeBroker) dial(url, exchange string) (Publisher, io.Closer, <-chan *amqp.Error, error) {
	b.dials++
	if b.dialErr != nil {
		return nil, nil, nil, b.dialErr
	}
	pub, conn, closed := &fakePublisher{}, &fakeConn{}, make(chan *amqp.Error, 1)
	b.channels = append(b.channels, pub)
	b.conns = append(b.conns, conn)
	b.closed = append(b.closed, closed)
	return pub, conn, closed, nil
}

func (b *fakeBroker) drop() {
	last := len(b.closed) - 1
	b.closed[last] <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}
	close(b.closed[last])
}

func TestAMQPNotifier_ReconnectsAfterConnectionClosed(t *testing.T) {
	broker := &fakeBroker{}
	n, err := DialAMQPWith("amqp://ingest", "", broker.dial, discard())
	require.NoError(t, err)
	require.Equal(t, 1, broker.dials)

	require.NoError(t, n.Notify(context.Background(), FileUploaded, 1, nil))
	broker.drop()
	require.NoError(t, n.Notify(context.Background(), FileUploaded, 2, nil))

	require.Equal(t, 2, broker.dials)
	assert.Len(t, broker.channels[0].sent, 1)
	assert.Len(t, broker.channels[1].sent, 1)
	assert.Equal(t, 1, broker.conns[0].closes)
	assert.Equal(t, DefaultExchange, broker.channels[1].sent[0].exchange)
}

func TestAMQPNotifier_RetriesPublishOnClosedChannel(t *testing.T) {
	broker := &fakeBroker{}
	n, err := DialAMQPWith("amqp://ingest", "custom", broker.dial, discard())
	require.NoError(t, err)

	// The channel fails before the close notice arrives.
	broker.channels[0].err = amqp.ErrClosed
	require.NoError(t, n.Notify(context.Background(), FileValidated, 3, nil))

	require.Equal(t, 2, broker.dials)
	require.Len(t, broker.channels[1].sent, 1)
	assert.Equal(t, "file.validated", broker.channels[1].sent[0].key)
}

func TestAMQPNotifier_FailedReconnectIsRetriedNextTime(t *testing.T) {
	broker := &fakeBroker{}
	n, err := DialAMQPWith("amqp://ingest", "", broker.dial, discard())
	require.NoError(t, err)

	broker.drop()
	broker.dialErr = errors.New("connection refused")
	require.Error(t, n.Notify(context.Background(), FileUploaded, 1, nil))

	broker.dialErr = nil
	require.NoError(t, n.Notify(context.Background(), FileUploaded, 1, nil))
	assert.Equal(t, 3, broker.dials)
	assert.Len(t, broker.channels[1].sent, 1)
}

func TestAMQPNotifier_OtherPublishErrorsDoNotReconnect(t *testing.T) {
	broker := &fakeBroker{}
	n, err := DialAMQPWith("amqp://ingest", "", broker.dial, discard())
	require.NoError(t, err)

	broker.channels[0].err = errors.New("message too large")
	require.Error(t, n.Notify(context.Background(), FileUploaded, 1, nil))
	assert.Equal(t, 1, broker.dials)
}

func TestAMQPNotifier_NotifyAfterClose(t *testing.T) {
	broker := &fakeBroker{}
	n, err := DialAMQPWith("amqp://ingest", "", broker.dial, discard())
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.Equal(t, 1, broker.conns[0].closes)
	require.ErrorIs(t, n.Notify(context.Background(), FileUploaded, 1, nil), amqp.ErrClosed)
	assert.Equal(t, 1, broker.dials)
}
