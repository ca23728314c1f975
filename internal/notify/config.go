package notify

import (
	"errors"
	"time"

	"github.com/propsync-io/propsync/internal/config"
)

const (
	defaultAlertTopic   = "propsync.sync-failure-alerts"
	defaultWriteTimeout = 10 * time.Second
)

// ErrMissingTopic is returned when brokers are configured without a topic.
var ErrMissingTopic = errors.New("kafka alert topic is required when brokers are set")

// Config selects where failure alerts are delivered.
type Config struct {
	// Brokers is the Kafka bootstrap list. Empty means alerts are only logged.
	Brokers []string

	// Topic receives one JSON message per alert, keyed by connection id.
	Topic string

	WriteTimeout time.Duration
}

// LoadConfig reads PROPSYNC_KAFKA_* environment variables.
//
// Environment variables:
//   - PROPSYNC_KAFKA_BROKERS: comma-separated host:port list (default: none, log only)
//   - PROPSYNC_KAFKA_ALERT_TOPIC: topic for failure alerts (default: propsync.sync-failure-alerts)
//   - PROPSYNC_KAFKA_WRITE_TIMEOUT: per-alert publish timeout (default: 10s)
func LoadConfig() Config {
	return Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("PROPSYNC_KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("PROPSYNC_KAFKA_ALERT_TOPIC", defaultAlertTopic),
		WriteTimeout: config.GetEnvDuration("PROPSYNC_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if len(c.Brokers) > 0 && c.Topic == "" {
		return ErrMissingTopic
	}

	return nil
}

// KafkaEnabled reports whether alerts should be published.
func (c Config) KafkaEnabled() bool {
	return len(c.Brokers) > 0
}
