package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

const (
	// StreamName is the name of the thread events stream.
	StreamName = "BROKER_COMMS"

	// SubjectPrefix is the prefix for all thread event subjects.
	SubjectPrefix = "comms"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the thread events stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Broker communication thread events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// subjectToken makes an id safe to use as a single subject token.
var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// EventSubject returns the subject for an event. Event types contain a dot,
// so they span two tokens: comms.<broker>.<thread>.message.sent.
func EventSubject(brokerID, threadID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix,
		subjectToken.Replace(brokerID), subjectToken.Replace(threadID), eventType)
}

// ThreadFilter returns the filter subject for all events on a thread.
func ThreadFilter(brokerID, threadID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix,
		subjectToken.Replace(brokerID), subjectToken.Replace(threadID))
}

// Publish writes a thread event to JetStream.
func (m *StreamManager) Publish(ctx context.Context, event *model.ThreadEvent) error {
	_, err := m.PublishEvent(ctx, event)
	metrics.RecordEvent("nats", err)
	return err
}

// PublishEvent publishes an event and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ThreadEvent) (uint64, error) {
	subject := EventSubject(event.BrokerID, event.ThreadID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// ThreadEvents replays a thread's events starting after a stream sequence.
func (m *StreamManager) ThreadEvents(ctx context.Context, brokerID, threadID string, afterSequence uint64, limit int) ([]model.ThreadEvent, uint64, bool, error) {
	consumerConfig := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ThreadFilter(brokerID, threadID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]model.ThreadEvent, 0, limit)
	lastSequence := afterSequence
	for msg := range batch.Messages() {
		var event model.ThreadEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			m.client.logger.Warn("skipping undecodable thread event")
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, len(events) == limit, nil
}
