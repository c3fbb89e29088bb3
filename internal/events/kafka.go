// Package events publishes graded submissions to Kafka for downstream
// consumers such as progress tracking.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/michaelbrown/labforge/internal/storage"
)

// EventSubmissionGraded is the type of every published event.
const EventSubmissionGraded = "lab.submission.graded"

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
}

// SubmissionEvent is the JSON payload written for each recorded attempt.
type SubmissionEvent struct {
	Type         string    `json:"type"`
	SubmissionID int64     `json:"submission_id"`
	LabID        int64     `json:"lab_id"`
	SubmitterID  string    `json:"submitter_id"`
	Score        int       `json:"score"`
	Passed       bool      `json:"passed"`
	TimedOut     bool      `json:"timed_out"`
	DurationMs   int64     `json:"duration_ms"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Publisher writes submission events to a Kafka topic.
type Publisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newPublisher(writer), nil
}

func newPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// PublishSubmission writes one event keyed by submitter, so a learner's
// attempts stay ordered within a partition.
func (p *Publisher) PublishSubmission(ctx context.Context, sub storage.Submission) error {
	if p.writer == nil {
		return errors.New("publisher is not initialized")
	}

	payload, err := json.Marshal(SubmissionEvent{
		Type:         EventSubmissionGraded,
		SubmissionID: sub.ID,
		LabID:        sub.LabID,
		SubmitterID:  sub.SubmitterID,
		Score:        sub.Score,
		Passed:       sub.Passed,
		TimedOut:     sub.TimedOut,
		DurationMs:   sub.DurationMs,
		SubmittedAt:  sub.SubmittedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding submission event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(sub.SubmitterID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
