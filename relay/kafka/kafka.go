// Package kafka publishes relay messages to Kafka topics using
// github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/playvault/gamestore/relay"
)

// Publisher writes relay messages to Kafka, one writer per topic.
type Publisher struct {
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration

	mu      sync.RWMutex
	writers map[string]*kafkago.Writer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) { p.balancer = balancer }
}

// WithBatchTimeout sets the writer batch timeout.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.batchTimeout = d
		}
	}
}

// New creates a Publisher for the given brokers.
func New(brokers []string, opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      brokers,
		balancer:     &kafkago.LeastBytes{},
		batchTimeout: 10 * time.Millisecond,
		writers:      make(map[string]*kafkago.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes the batch grouped by topic. Every topic is attempted
// even when one fails; failures are joined.
func (p *Publisher) Publish(ctx context.Context, messages []relay.Message) error {
	grouped := make(map[string][]kafkago.Message)
	for _, msg := range messages {
		kafkaMsg := kafkago.Message{
			Key:   []byte(msg.Key),
			Value: msg.Payload,
		}
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafkago.Header{
			Key:   "event-type",
			Value: []byte(msg.Type),
		})
		for k, v := range msg.Headers {
			kafkaMsg.Headers = append(kafkaMsg.Headers, kafkago.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
		grouped[msg.Topic] = append(grouped[msg.Topic], kafkaMsg)
	}

	var errs []error
	for topic, msgs := range grouped {
		writer := p.getWriter(topic)
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			errs = append(errs, fmt.Errorf("kafka: failed to write to topic %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all topic writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: failed to close writer for %s: %w", topic, err))
		}
	}
	p.writers = make(map[string]*kafkago.Writer)
	return errors.Join(errs...)
}

func (p *Publisher) getWriter(topic string) *kafkago.Writer {
	p.mu.RLock()
	w, ok := p.writers[topic]
	p.mu.RUnlock()
	if ok {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w = &kafkago.Writer{
		Addr:         kafkago.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     p.balancer,
		BatchTimeout: p.batchTimeout,
	}
	p.writers[topic] = w
	return w
}
