package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zen-systems/careerflow/pkg/pipeline"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := RunEvent{RunID: "run-1", Pipeline: "basic", Outcome: "failed", FailedStage: "jobs", Status: "normalization_failed", Timestamp: ts}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "run-1" {
		t.Fatalf("unexpected key: %s", w.msgs[0].Key)
	}
	var got RunEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != ev.RunID || got.Outcome != ev.Outcome || got.FailedStage != ev.FailedStage || got.Status != ev.Status || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected event: %+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaPublisherError(t *testing.T) {
	p := NewPublisherWithWriter(&fakeWriter{err: errors.New("broker down")})
	if err := p.Publish(context.Background(), RunEvent{RunID: "x"}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestNewWithoutBrokers(t *testing.T) {
	p, err := New(nil, "topic")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := p.(NoopPublisher); !ok {
		t.Fatalf("expected noop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), RunEvent{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected error without topic")
	}
}

func TestNewRunEvent(t *testing.T) {
	p, err := pipeline.ParseManifest([]byte(`name: ev
stages:
  - id: summary
    shape: object
    prompt: "Read {{ .Document }}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	exec := pipeline.ExecutorFunc(func(ctx context.Context, req pipeline.ExecRequest) (*pipeline.ExecResult, error) {
		return nil, errors.New("model down")
	})
	run, err := pipeline.Execute(context.Background(), p, exec, pipeline.RunOptions{RunID: "run-2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	ev := NewRunEvent(run)
	if ev.RunID != "run-2" || ev.Outcome != "failed" || ev.FailedStage != "summary" || ev.Status != "execution_failed" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("timestamp must be set")
	}
}
