// Package notify delivers failure alerts: to a Kafka topic when brokers are configured,
// otherwise to the structured log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/propsync-io/propsync/internal/alerting"
)

var (
	_ alerting.Notifier = (*KafkaNotifier)(nil)
	_ alerting.Notifier = (*LogNotifier)(nil)
)

type (
	// messageWriter is the part of *kafka.Writer the notifier uses.
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// KafkaNotifier publishes alerts as JSON messages keyed by connection id, so all alerts
	// for one connection land on one partition in order.
	KafkaNotifier struct {
		writer       messageWriter
		topic        string
		writeTimeout time.Duration
		logger       *slog.Logger
	}

	// LogNotifier writes alerts to the log.
	LogNotifier struct {
		logger *slog.Logger
	}

	// Closer is implemented by notifiers that hold connections.
	Closer interface {
		Close() error
	}
)

// New returns a KafkaNotifier when brokers are configured and a LogNotifier otherwise.
func New(cfg Config, logger *slog.Logger) (alerting.Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.KafkaEnabled() {
		logger.Info("Kafka brokers not configured, failure alerts will be logged only")

		return NewLogNotifier(logger), nil
	}

	return NewKafkaNotifier(cfg, logger), nil
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic.
func NewKafkaNotifier(cfg Config, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}

	logger.Info("Publishing failure alerts to Kafka",
		slog.String("brokers", strings.Join(cfg.Brokers, ",")),
		slog.String("topic", cfg.Topic))

	return newKafkaNotifier(writer, cfg, logger)
}

func newKafkaNotifier(writer messageWriter, cfg Config, logger *slog.Logger) *KafkaNotifier {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &KafkaNotifier{writer: writer, topic: cfg.Topic, writeTimeout: timeout, logger: logger}
}

// Notify publishes one alert.
func (n *KafkaNotifier) Notify(ctx context.Context, alert alerting.Alert) error {
	payload, err := gojson.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(alert.ConnectionID, 10)),
		Value: payload,
		Time:  alert.TriggeredAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte("sync_failure_alert")},
		},
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", n.topic, err)
	}

	n.logger.Debug("Failure alert published",
		slog.String("topic", n.topic),
		slog.Int64("connection_id", alert.ConnectionID))

	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at error level.
func (n *LogNotifier) Notify(_ context.Context, alert alerting.Alert) error {
	n.logger.Error("Sync failure alert",
		slog.Int64("connection_id", alert.ConnectionID),
		slog.Int("consecutive_failures", alert.ConsecutiveFailures),
		slog.String("run_id", alert.RunID.String()),
		slog.String("mode", string(alert.Mode)),
		slog.Int("error_count", alert.ErrorCount),
		slog.String("error_summary", alert.ErrorSummary),
		slog.String("recipients", strings.Join(alert.Recipients, ",")))

	return nil
}
