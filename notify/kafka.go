package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"disputeflow/dispute"
	"disputeflow/logging"
	"disputeflow/metrics"
)

// Writer abstracts kafka.Writer for tests.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
}

// KafkaDispatcher publishes events keyed by case ID, so one case's events
// stay ordered within a partition.
type KafkaDispatcher struct {
	writer  Writer
	log     logging.Logger
	metrics *metrics.Metrics
	closed  atomic.Bool
}

func NewKafkaDispatcher(cfg KafkaConfig, log logging.Logger, m *metrics.Metrics) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: no kafka brokers configured")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if log == nil {
		log = logging.NewNop()
	}
	d := &KafkaDispatcher{log: log.Named("notify.kafka"), metrics: m}
	d.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             d.completed,
	}
	return d, nil
}

// NewKafkaDispatcherWithWriter is used by tests and callers that own the writer.
func NewKafkaDispatcherWithWriter(w Writer, log logging.Logger, m *metrics.Metrics) *KafkaDispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &KafkaDispatcher{writer: w, log: log.Named("notify.kafka"), metrics: m}
}

func (d *KafkaDispatcher) Dispatch(e dispute.Event) {
	if d.closed.Load() {
		d.fail(e, fmt.Errorf("notify: dispatcher closed"))
		return
	}
	value, err := Encode(e)
	if err != nil {
		d.fail(e, fmt.Errorf("notify: encode event: %w", err))
		return
	}
	msg := kafka.Message{
		Topic: e.Kind.Topic(),
		Key:   []byte(e.CaseID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "kind", Value: []byte(e.Kind)},
		},
		Time: e.At,
	}
	// Async writers return at once; delivery errors arrive in completed.
	if err := d.writer.WriteMessages(context.Background(), msg); err != nil {
		d.fail(e, err)
	}
}

func (d *KafkaDispatcher) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for range msgs {
		d.metrics.ObserveDispatchFailure()
	}
	d.log.Error("kafka delivery failed", logging.Int("messages", len(msgs)), logging.Err(err))
}

func (d *KafkaDispatcher) fail(e dispute.Event, err error) {
	d.metrics.ObserveDispatchFailure()
	d.log.Error("dispatch failed",
		logging.String("event_id", e.ID),
		logging.String("case_id", e.CaseID),
		logging.String("kind", string(e.Kind)),
		logging.Err(err),
	)
}

// Close flushes pending messages.
func (d *KafkaDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.writer.Close()
}
