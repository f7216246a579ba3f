package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// Sink is one delivery target for security events. Deliver receives a
// batch in queue order; delivery is best-effort at-most-once, the caller
// handles retries.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, events []SecurityEvent) error
	Close()
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// WebhookSink POSTs each batch as a JSON array.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookSink(settings map[string]interface{}) (*WebhookSink, error) {
	var cfg WebhookConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *WebhookSink) Name() string {
	return "webhook"
}

func (s *WebhookSink) Deliver(ctx context.Context, events []SecurityEvent) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (s *WebhookSink) Close() {}

type KafkaConfig struct {
	Host  string `mapstructure:"host"`
	Port  string `mapstructure:"port"`
	Topic string `mapstructure:"topic"`
}

// KafkaSink produces one message per event and waits for broker
// acknowledgement before moving to the next, preserving batch order.
type KafkaSink struct {
	cfg      KafkaConfig
	producer *kafka.Producer
}

func NewKafkaSink(settings map[string]interface{}) (*KafkaSink, error) {
	var cfg KafkaConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if cfg.Host == "" {
		return nil, errors.New("kafka host is required")
	}
	if cfg.Port == "" {
		return nil, errors.New("kafka port is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaSink{cfg: cfg, producer: producer}, nil
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Deliver(ctx context.Context, events []SecurityEvent) error {
	if s.producer == nil {
		return errors.New("kafka producer is not initialized")
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		deliveryChan := make(chan kafka.Event, 1)
		err = s.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &s.cfg.Topic, Partition: kafka.PartitionAny},
			Key:            []byte(event.Actor),
			Value:          data,
		}, deliveryChan)
		if err != nil {
			return fmt.Errorf("failed to produce message: %w", err)
		}

		select {
		case e := <-deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				return errors.New("unexpected kafka delivery event")
			}
			if m.TopicPartition.Error != nil {
				return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *KafkaSink) Close() {
	if s.producer != nil {
		s.producer.Flush(5000)
		s.producer.Close()
	}
}

// LogSink writes events to the structured log, the syslog-style fallback
// when no external SIEM is configured.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Deliver(ctx context.Context, events []SecurityEvent) error {
	for _, event := range events {
		s.logger.WithFields(logrus.Fields{
			"event_id":       event.EventID,
			"correlation_id": event.CorrelationID,
			"severity":       event.Severity,
			"actor":          event.Actor,
			"source_ip":      event.SourceIP,
			"target":         event.Target,
			"score":          event.Score,
			"confidence":     event.Confidence,
			"actions":        event.Actions,
			"tags":           event.Tags,
		}).Info("security event")
	}
	return nil
}

func (s *LogSink) Close() {}
