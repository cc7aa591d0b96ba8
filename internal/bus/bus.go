// Package bus is the durable message bus connecting the Collector Stage
// and the Processing Stage: the `scraps` topic carries staged scraps
// downstream, and the completion topic carries the advisory back-edge
// that frees in-flight hashes. Built on RabbitMQ (amqp091-go), grounded
// on manifests/LerianStudio-midaz/go.mod's rabbitmq/amqp091-go pin and on
// this module's own teacher wiring an AMQP connection in
// go-enhanced-rag-service/main.go (see SPEC_FULL.md §4.7).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeName = "breachhunter"

// ScrapEnvelope is the message value published on the scraps topic: the
// embedded scrap JSON plus both staging-mount views, matching
// spec.md §6's bus topic contract.
type ScrapEnvelope struct {
	ScrapData   string `json:"scrap_data"`
	MountedPath string `json:"mounted_path"`
	UNCPath     string `json:"unc_path"`
}

// CompletionEnvelope is the message value published on the completion
// topic once a scrap finishes processing.
type CompletionEnvelope struct {
	ScrapID int64  `json:"scrap_id"`
	Hash    string `json:"hash"`
	Status  string `json:"status"`
}

// Config is the bus connection configuration.
type Config struct {
	URL            string
	Topic          string
	ProcessedTopic string
}

// Bus owns the AMQP connection shared by every producer and consumer
// built from it. The client is safe for concurrent use by multiple
// goroutines per amqp091-go's documented connection model.
type Bus struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// Dial opens the AMQP connection and declares the topic exchange that
// every queue in this package binds to.
func Dial(cfg Config, logger *zap.Logger) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing bus at %s: %w", cfg.URL, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening bootstrap channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchangeName, err)
	}

	return &Bus{conn: conn, logger: logger.Named("bus")}, nil
}

// Close tears down the connection.
func (b *Bus) Close() error {
	return b.conn.Close()
}

// Producer publishes onto a single topic (routing key).
type Producer struct {
	ch    *amqp.Channel
	topic string
}

// NewProducer opens a dedicated channel for publishing onto topic.
func (b *Bus) NewProducer(topic string) (*Producer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening producer channel for %s: %w", topic, err)
	}
	return &Producer{ch: ch, topic: topic}, nil
}

// Publish sends body as a persistent message on the producer's topic.
func (p *Producer) Publish(ctx context.Context, body []byte) error {
	return p.ch.PublishWithContext(ctx, exchangeName, p.topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

// PublishScrap JSON-encodes and publishes a ScrapEnvelope.
func (p *Producer) PublishScrap(ctx context.Context, env ScrapEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling scrap envelope: %w", err)
	}
	return p.Publish(ctx, body)
}

// PublishCompletion JSON-encodes and publishes a CompletionEnvelope.
func (p *Producer) PublishCompletion(ctx context.Context, env CompletionEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling completion envelope: %w", err)
	}
	return p.Publish(ctx, body)
}

// Close releases the producer's channel.
func (p *Producer) Close() error {
	return p.ch.Close()
}

// Delivery wraps one consumed message with its manual ack/nack handles.
// Offsets (AMQP delivery tags) commit only when Ack is called, matching
// spec.md §4.7's "auto-commit disabled" requirement.
type Delivery struct {
	Body   []byte
	ackFn  func() error
	nackFn func(requeue bool) error
}

// NewDelivery builds a Delivery from explicit ack/nack callbacks,
// letting tests exercise consumers without a real AMQP broker.
func NewDelivery(body []byte, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Body: body, ackFn: ack, nackFn: nack}
}

// Ack commits the message. Call once the scrap's processing future has
// resolved successfully or terminally.
func (d Delivery) Ack() error { return d.ackFn() }

// Nack redelivers (requeue=true) or drops (requeue=false) the message.
func (d Delivery) Nack(requeue bool) error { return d.nackFn(requeue) }

// Consumer consumes from a single topic under a named consumer group.
// Each (topic, group) pair maps to one durable queue bound to the shared
// exchange, giving at-least-once delivery across process restarts.
type Consumer struct {
	ch   *amqp.Channel
	msgs <-chan amqp.Delivery
}

// NewConsumer declares the group's durable queue, binds it to topic, sets
// the channel's prefetch (QoS) to batchSize — the processing stage's
// "consumer batch size 100" cap — and begins consuming with manual ack.
func (b *Bus) NewConsumer(topic, group string, batchSize int) (*Consumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening consumer channel for %s/%s: %w", topic, group, err)
	}

	queueName := topic + "." + group
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, topic, exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("binding queue %s to %s: %w", queueName, topic, err)
	}
	if err := ch.Qos(batchSize, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("setting prefetch for %s: %w", queueName, err)
	}

	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consuming from %s: %w", queueName, err)
	}

	return &Consumer{ch: ch, msgs: msgs}, nil
}

// GetMany drains up to max ready deliveries, waiting up to timeout for
// the first one. It never blocks past timeout once at least one message
// has arrived, matching spec.md §4.7's `getmany(timeout=1s)` semantics.
func (c *Consumer) GetMany(ctx context.Context, timeout time.Duration, max int) ([]Delivery, error) {
	var out []Delivery

	first, ok, err := c.next(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out = append(out, first)

	for len(out) < max {
		d, ok, err := c.next(ctx, 0)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

func wrapDelivery(d amqp.Delivery) Delivery {
	return Delivery{
		Body:   d.Body,
		ackFn:  func() error { return d.Ack(false) },
		nackFn: func(requeue bool) error { return d.Nack(false, requeue) },
	}
}

// next waits for one delivery. timeout == 0 means "return immediately if
// none is already buffered"; timeout > 0 blocks up to that long.
func (c *Consumer) next(ctx context.Context, timeout time.Duration) (Delivery, bool, error) {
	if timeout == 0 {
		select {
		case d, ok := <-c.msgs:
			if !ok {
				return Delivery{}, false, fmt.Errorf("consumer channel closed")
			}
			return wrapDelivery(d), true, nil
		default:
			return Delivery{}, false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Delivery{}, false, ctx.Err()
	case d, ok := <-c.msgs:
		if !ok {
			return Delivery{}, false, fmt.Errorf("consumer channel closed")
		}
		return wrapDelivery(d), true, nil
	case <-timer.C:
		return Delivery{}, false, nil
	}
}

// Close releases the consumer's channel.
func (c *Consumer) Close() error {
	return c.ch.Close()
}
