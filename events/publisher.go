// Package events publishes meeting status changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bosley/listener/metrics"
)

// Event is one meeting status transition.
type Event struct {
	MeetingID  string    `json:"meeting_id"`
	Workflow   string    `json:"workflow"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Utterances int       `json:"utterances,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	Source  string
}

// Publisher writes events to a Kafka topic, or only logs them when disabled.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	source  string
	enabled bool
	metrics *metrics.Metrics
}

// New creates a publisher. A disabled config or one without brokers yields a
// log-only publisher.
func New(cfg Config, m *metrics.Metrics) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = "listener.meetings"
	}
	if cfg.Source == "" {
		cfg.Source = "listener"
	}

	p := &Publisher{
		topic:   cfg.Topic,
		source:  cfg.Source,
		metrics: m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		slog.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true

	slog.Info("Kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic)

	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Publish sends ev keyed by meeting id so one meeting's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	slog.Debug("Publishing event",
		"topic", p.topic,
		"meetingID", ev.MeetingID,
		"status", ev.Status)

	if !p.enabled {
		p.metrics.RecordPublish(p.topic, ev.Status, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.MeetingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
			{Key: "source", Value: []byte(p.source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write to Kafka",
			"topic", p.topic,
			"meetingID", ev.MeetingID,
			"error", err)
		p.metrics.RecordPublish(p.topic, ev.Status, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.metrics.RecordPublish(p.topic, ev.Status, nil)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
