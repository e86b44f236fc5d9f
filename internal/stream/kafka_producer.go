package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"hostmetrics-agent/internal/model"
)

type KafkaOptions struct {
	Brokers      []string
	Hostname     string
	Topic        string
	AlertTopic   string
	BatchSize    int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes records and alert batches to separate topics,
// keyed by hostname so one host stays on one partition.
//
// Writes are queued asynchronously so a collection tick never waits on a
// broker round trip. A failed delivery is reported by the next send.
type KafkaProducer struct {
	logger   *slog.Logger
	hostname string
	records  messageWriter
	alerts   messageWriter
	now      func() time.Time

	mu          sync.Mutex
	deliveryErr error
}

func NewKafkaProducer(opts KafkaOptions, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaProducer{
		logger:   logger.With("sink", "kafka"),
		hostname: opts.Hostname,
		now:      time.Now,
	}
	p.records = newKafkaWriter(opts, opts.Topic, p.delivered)
	p.alerts = newKafkaWriter(opts, opts.AlertTopic, p.delivered)
	return p
}

func newKafkaWriter(opts KafkaOptions, topic string, completion func([]kafka.Message, error)) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   completion,
	}
}

// delivered runs on the writer's goroutine once a batch is acknowledged or
// has failed.
func (p *KafkaProducer) delivered(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	topic := ""
	if len(msgs) > 0 {
		topic = msgs[0].Topic
	}
	p.logger.Warn("kafka delivery failed", "topic", topic, "messages", len(msgs), "error", err)
	p.mu.Lock()
	p.deliveryErr = err
	p.mu.Unlock()
}

// takeDeliveryErr returns and clears the last failed delivery.
func (p *KafkaProducer) takeDeliveryErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.deliveryErr
	p.deliveryErr = nil
	if err != nil {
		return fmt.Errorf("kafka delivery: %w", err)
	}
	return nil
}

func (p *KafkaProducer) SendRecord(ctx context.Context, rec model.Record) error {
	value, err := json.Marshal(NewRecordEnvelope(rec))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := p.records.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.hostname),
		Value: value,
		Time:  p.now(),
	}); err != nil {
		return err
	}
	return p.takeDeliveryErr()
}

func (p *KafkaProducer) SendAlerts(ctx context.Context, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	value, err := json.Marshal(NewAlertEnvelope(p.hostname, events))
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := p.alerts.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.hostname),
		Value: value,
		Time:  p.now(),
	}); err != nil {
		return err
	}
	return p.takeDeliveryErr()
}

// Close flushes queued messages before closing both writers.
func (p *KafkaProducer) Close(_ context.Context) error {
	var firstErr error
	for _, w := range []messageWriter{p.records, p.alerts} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return p.takeDeliveryErr()
}
