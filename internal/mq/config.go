package mq

import (
	"errors"
	"strings"
	"time"
)

// ProducerConfig describes how to connect to a Kafka topic for publishing messages.
type ProducerConfig struct {
	Brokers   []string
	Topic     string
	ClientID  string
	BatchSize int
	Timeout   time.Duration
}

// Validate ensures the producer configuration is usable.
func (cfg ProducerConfig) Validate() error {
	if len(cfg.Brokers) == 0 {
		return errors.New("mq: at least one broker must be configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return errors.New("mq: topic must be provided")
	}
	return nil
}

// ConsumerConfig defines how to consume messages from Kafka.
type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string
	MinBytes int
	MaxBytes int
}

// Validate ensures the consumer configuration is usable.
func (cfg ConsumerConfig) Validate() error {
	if len(cfg.Brokers) == 0 {
		return errors.New("mq: at least one broker must be configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return errors.New("mq: topic must be provided")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return errors.New("mq: group id must be provided")
	}
	return nil
}

func (cfg ProducerConfig) effectiveTimeout() time.Duration {
	if cfg.Timeout <= 0 {
		return 5 * time.Second
	}
	return cfg.Timeout
}

func (cfg ProducerConfig) effectiveBatchSize() int {
	if cfg.BatchSize <= 0 {
		return 1
	}
	return cfg.BatchSize
}

func (cfg ProducerConfig) normalize() ProducerConfig {
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.Brokers = trimBrokers(cfg.Brokers)
	return cfg
}

func (cfg ConsumerConfig) normalize() ConsumerConfig {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1e3
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	cfg.GroupID = strings.TrimSpace(cfg.GroupID)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.Brokers = trimBrokers(cfg.Brokers)
	return cfg
}

func trimBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		broker = strings.TrimSpace(broker)
		if broker == "" {
			continue
		}
		out = append(out, broker)
	}
	return out
}
