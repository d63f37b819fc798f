// Package events publishes run outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// RunEvent is the message written for every finished run.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Outcome     string    `json:"outcome"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRunEvent summarizes a finished run.
func NewRunEvent(run *pipeline.Run) RunEvent {
	ev := RunEvent{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		Outcome:     string(run.Outcome),
		FailedStage: run.FailedStage(),
		Timestamp:   run.FinishedAt,
	}
	if run.Err != nil {
		ev.Status = string(run.Status())
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, ev RunEvent) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by run id.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher returns a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes ev. Events for the same run land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, ev RunEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RunID), Value: body, Time: ev.Timestamp}); err != nil {
		return fmt.Errorf("publish run event %s: %w", ev.RunID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events. It is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, RunEvent) error { return nil }
func (NoopPublisher) Close() error                            { return nil }

// New returns a Kafka publisher when brokers are configured and a
// NoopPublisher otherwise.
func New(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(brokers, topic)
}
