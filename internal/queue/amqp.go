package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes to and consumes from durable RabbitMQ queues, one per topic.
type AMQPQueue struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pub      *amqp.Channel
	prefetch int
	log      *zap.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	MaxRetries int
	Backoff    time.Duration
}

// DialAMQP connects to RabbitMQ. prefetch bounds in-flight messages per subscriber.
func DialAMQP(url string, prefetch int, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if prefetch < 1 {
		prefetch = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		prefetch:   prefetch,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := declare(q.pub, topic); err != nil {
		return err
	}
	err := q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic on its own channel with prefetch workers.
// Failed messages are republished with an incremented retry header until
// MaxRetries, then acked and dropped.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for i := 0; i < q.prefetch; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for d := range msgs {
				q.handle(topic, handler, d)
			}
		}()
	}
	return nil
}

func (q *AMQPQueue) handle(topic string, handler Handler, d amqp.Delivery) {
	err := handler(q.ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= q.MaxRetries {
		q.log.Error("Message permanently failed",
			zap.String("topic", topic),
			zap.Int("retries", retries),
			zap.ByteString("body", d.Body),
			zap.Error(err),
		)
		_ = d.Ack(false)
		return
	}

	q.log.Warn("Message failed, republishing",
		zap.String("topic", topic),
		zap.Int("retry", retries+1),
		zap.Error(err),
	)

	select {
	case <-time.After(time.Duration(retries+1) * q.Backoff):
	case <-q.ctx.Done():
		_ = d.Nack(false, true)
		return
	}

	if perr := q.publish(topic, d.Body, retries+1); perr != nil {
		q.log.Error("Failed to republish message", zap.String("topic", topic), zap.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retryCount reads the retry header, which arrives as any AMQP integer type.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

// Close cancels running handlers and closes the connection, which ends every consumer.
func (q *AMQPQueue) Close() error {
	q.cancel()
	err := q.conn.Close()
	q.wg.Wait()
	return err
}

var _ Queue = (*AMQPQueue)(nil)
