package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/types"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 1024

var _ types.SnapshotHandler = (*Publisher)(nil)

// Writer is the subset of kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer for topic
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Publisher forwards pressure reports for emitted snapshots to Kafka.
// HandleSnapshot never blocks; reports are dropped when the queue is full.
type Publisher struct {
	writer   Writer
	detector *pressure.Detector
	queue    chan kafka.Message
	logger   *logrus.Entry

	published atomic.Int64
	dropped   atomic.Int64
}

func NewPublisher(writer Writer, detector *pressure.Detector, queueSize int, logger *logrus.Entry) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Publisher{
		writer:   writer,
		detector: detector,
		queue:    make(chan kafka.Message, queueSize),
		logger:   logger.WithField("component", "kafka_sink"),
	}
}

// Subscriber returns callbacks for feed.Registry.Subscribe
func (p *Publisher) Subscriber() feed.Subscriber {
	return feed.Subscriber{
		OnSnapshot: p.HandleSnapshot,
		OnError: func(ev feed.ErrorEvent) {
			if ev.Kind == feed.ErrorExhausted {
				p.logger.WithFields(logrus.Fields{
					"exchange": ev.Exchange,
					"symbol":   ev.Symbol,
				}).Warn("Pipeline exhausted, sink idle until reconnect")
			}
		},
	}
}

// HandleSnapshot encodes the pressure report for snap and queues it
func (p *Publisher) HandleSnapshot(snap types.BookSnapshot) {
	report := p.detector.Report(snap)
	value, err := json.Marshal(report)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to encode pressure report")
		return
	}

	msg := kafka.Message{
		Key:   []byte(feed.NewKey(exchange.ExchangeName(report.Exchange), report.Symbol).String()),
		Value: value,
		Time:  snap.Timestamp,
	}

	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.WithField("key", string(msg.Key)).Warn("Kafka queue full, dropping report")
	}
}

// Run writes queued reports until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Kafka sink started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				p.logger.WithError(err).WithField("key", string(msg.Key)).Warn("Failed to publish pressure report")
				continue
			}
			p.published.Add(1)
		}
	}
}

// Stats returns published and dropped report counts
func (p *Publisher) Stats() (published, dropped int64) {
	return p.published.Load(), p.dropped.Load()
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
