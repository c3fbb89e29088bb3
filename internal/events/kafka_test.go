package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/michaelbrown/labforge/internal/storage"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPublisher(Config{}); err == nil {
		t.Fatal("expected error when brokers missing")
	}
	if _, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error when topic missing")
	}

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "lab-submissions"})
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublishSubmission(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := newPublisher(w)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishSubmission(context.Background(), storage.Submission{
		ID:          9,
		LabID:       3,
		SubmitterID: "alice",
		Code:        "secret code",
		Score:       80,
		Passed:      true,
		DurationMs:  1500,
		SubmittedAt: at,
	})
	if err != nil {
		t.Fatalf("PublishSubmission returned error: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}

	msg := w.messages[0]
	if string(msg.Key) != "alice" {
		t.Fatalf("expected key alice, got %q", msg.Key)
	}

	var ev SubmissionEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if ev.Type != EventSubmissionGraded || ev.SubmissionID != 9 || ev.LabID != 3 || ev.Score != 80 || !ev.Passed {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.SubmittedAt.Equal(at) {
		t.Fatalf("submitted_at = %v, want %v", ev.SubmittedAt, at)
	}
	if containsField(msg.Value, "code") {
		t.Fatal("payload should not carry submitted code")
	}
}

func containsField(payload []byte, field string) bool {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	_, ok := m[field]
	return ok
}

func TestPublishSubmissionWriteError(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newPublisher(w)

	err := p.PublishSubmission(context.Background(), storage.Submission{SubmitterID: "bob"})
	if err == nil {
		t.Fatal("expected write error")
	}
	if !errors.Is(err, w.err) {
		t.Fatalf("error should wrap writer error, got %v", err)
	}
}

func TestPublisherClose(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	if err := newPublisher(w).Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !w.closed {
		t.Fatal("writer not closed")
	}
	if err := (&Publisher{}).Close(); err != nil {
		t.Fatalf("Close on empty publisher returned error: %v", err)
	}
}
