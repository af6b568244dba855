// Package service implements the broker communication core: templates,
// threads, message dispatch, voice calls, follow-ups and analytics.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// EventPublisher sends thread events to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.ThreadEvent) error
}

// Persister receives write-through snapshots of mutated entities.
type Persister interface {
	SaveThread(ctx context.Context, thread *model.Thread) error
	SaveTemplate(ctx context.Context, tmpl *model.Template) error
	SaveCall(ctx context.Context, call *model.VoiceCall) error
}

// DeliveryGateway hands an outbound message to a real channel.
type DeliveryGateway interface {
	Deliver(ctx context.Context, msg *model.Message) error
}

// Summarizer condenses a call transcript into one line.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// RecordingArchive stores a completed call's transcript and returns its
// location.
type RecordingArchive interface {
	Store(ctx context.Context, call *model.VoiceCall) (string, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *model.ThreadEvent) error { return nil }

type nopPersister struct{}

func (nopPersister) SaveThread(context.Context, *model.Thread) error     { return nil }
func (nopPersister) SaveTemplate(context.Context, *model.Template) error { return nil }
func (nopPersister) SaveCall(context.Context, *model.VoiceCall) error    { return nil }

type nopGateway struct{}

func (nopGateway) Deliver(context.Context, *model.Message) error { return nil }

func orNopPublisher(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func orNopPersister(p Persister) Persister {
	if p == nil {
		return nopPersister{}
	}
	return p
}

func orNopLogger(l *logger.Logger) *logger.Logger {
	if l == nil {
		return logger.NewNop()
	}
	return l
}

func newEvent(eventType model.EventType, threadID, brokerID string, at time.Time) *model.ThreadEvent {
	return &model.ThreadEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      eventType,
		ThreadID:  threadID,
		BrokerID:  brokerID,
		CreatedAt: at,
	}
}

// publish sends an event and logs, but never returns, a failure.
func publish(ctx context.Context, events EventPublisher, log *logger.Logger, event *model.ThreadEvent) {
	if err := events.Publish(ctx, event); err != nil {
		log.Warn("failed to publish thread event",
			zap.String("event_type", string(event.Type)),
			zap.String("thread_id", event.ThreadID),
			zap.Error(err),
		)
	}
}
