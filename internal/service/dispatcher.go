package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/clock"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
	"github.com/fleetflow/broker-comms/pkg/tracing"
)

// DefaultSenderContact is the broker address stamped on outbound messages.
const DefaultSenderContact = "broker@fleetflow.com"

// DispatcherConfig tunes simulated delivery.
type DispatcherConfig struct {
	SenderContact   string
	DeliveryTimeout time.Duration

	// DeliveryDelay and ReadDelay draw the wait before a message is marked
	// delivered, and before a delivered email is marked read.
	DeliveryDelay func() time.Duration
	ReadDelay     func() time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.SenderContact == "" {
		c.SenderContact = DefaultSenderContact
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.DeliveryDelay == nil {
		c.DeliveryDelay = UniformDelay(5*time.Second, 35*time.Second)
	}
	if c.ReadDelay == nil {
		c.ReadDelay = UniformDelay(5*time.Minute, 15*time.Minute)
	}
	return c
}

// UniformDelay returns a function drawing durations uniformly from [lo, hi).
func UniformDelay(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + rand.N(hi-lo)
	}
}

// Dispatcher appends outbound messages to threads and advances their
// delivery status in the background.
type Dispatcher struct {
	threads   *ThreadStore
	templates *TemplateStore
	gateway   DeliveryGateway
	events    EventPublisher
	clock     clock.Clock
	logger    *logger.Logger
	config    DispatcherConfig
	tracer    trace.Tracer

	tasks *taskSet
}

// NewDispatcher creates a dispatcher. A nil gateway accepts every message.
func NewDispatcher(
	threads *ThreadStore,
	templates *TemplateStore,
	gateway DeliveryGateway,
	events EventPublisher,
	clk clock.Clock,
	log *logger.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if gateway == nil {
		gateway = nopGateway{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{
		threads:   threads,
		templates: templates,
		gateway:   gateway,
		events:    orNopPublisher(events),
		clock:     clk,
		logger:    orNopLogger(log),
		config:    cfg.withDefaults(),
		tracer:    tracing.Tracer("service.dispatcher"),
		tasks:     newTaskSet(clk),
	}
}

// Send appends an outbound message to a thread, marks the thread as pending a
// response, and schedules simulated delivery. templateID is optional; when
// it names a known template that template's usage is incremented.
func (d *Dispatcher) Send(ctx context.Context, threadID string, channel model.Channel, content, templateID string) (*model.Message, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Send", trace.WithAttributes(
		attribute.String("thread_id", threadID),
		attribute.String("channel", string(channel)),
	))
	defer span.End()

	if !channel.IsSendable() {
		err := fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := d.clock.Now()
	msg, err := d.threads.AppendMessage(ctx, threadID, now, true, func(thread *model.Thread) model.Message {
		return model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Channel:   channel,
			Direction: model.DirectionOutbound,
			From: model.Participant{
				ID:      thread.BrokerID,
				Name:    thread.BrokerName,
				Contact: d.config.SenderContact,
				Role:    model.RoleBroker,
			},
			To: model.Participant{
				ID:      thread.ShipperID,
				Name:    thread.ShipperName,
				Contact: shipperAddress(thread.ShipperContact),
				Role:    model.RoleShipper,
			},
			Content:   content,
			Timestamp: now,
			Status:    model.StatusSent,
			Metadata: &model.MessageMetadata{
				TemplateUsed:         templateID,
				DeliveryConfirmation: true,
			},
			Sentiment: AnalyzeSentiment(content),
			Summary:   SummarizeMessage(content),
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if templateID != "" {
		d.templates.IncrementUsage(ctx, templateID)
	}
	metrics.MessagesSent.WithLabelValues(string(channel)).Inc()

	event := newEvent(model.EventMessageSent, threadID, msg.From.ID, now)
	event.MessageID = msg.ID
	event.Status = string(msg.Status)
	event.Payload = map[string]any{"channel": string(channel)}
	publish(ctx, d.events, d.logger, event)

	d.scheduleDelivery(threadID, msg)

	d.logger.Debug("message sent",
		zap.String("thread_id", threadID),
		zap.String("message_id", msg.ID),
		zap.String("channel", string(channel)),
	)
	return msg, nil
}

// Pending returns the number of delivery callbacks still waiting to run.
func (d *Dispatcher) Pending() int {
	return d.tasks.pending()
}

// Close cancels every pending delivery callback and waits for running ones.
func (d *Dispatcher) Close() {
	d.tasks.close()
}

func shipperAddress(c model.ShipperContact) string {
	if c.Email != "" {
		return c.Email
	}
	return c.Phone
}

func (d *Dispatcher) scheduleDelivery(threadID string, msg *model.Message) {
	d.tasks.schedule(msg.ID, d.config.DeliveryDelay(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.DeliveryTimeout)
		defer cancel()

		status := model.StatusDelivered
		if err := d.gateway.Deliver(ctx, msg); err != nil {
			d.logger.Warn("message delivery failed",
				zap.String("thread_id", threadID),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			status = model.StatusFailed
		}

		if !d.advance(ctx, threadID, msg, status) {
			return
		}
		if status == model.StatusDelivered && msg.Channel == model.ChannelEmail {
			d.tasks.schedule(msg.ID, d.config.ReadDelay(), func() {
				d.advance(context.Background(), threadID, msg, model.StatusRead)
			})
		}
	})
}

// advance applies a status change and reports whether it took effect.
func (d *Dispatcher) advance(ctx context.Context, threadID string, msg *model.Message, status model.MessageStatus) bool {
	changed, err := d.threads.AdvanceMessageStatus(ctx, threadID, msg.ID, status)
	if err != nil {
		d.logger.Debug("dropping status update",
			zap.String("thread_id", threadID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return false
	}
	if !changed {
		return false
	}

	metrics.MessageStatusTransitions.WithLabelValues(string(msg.Channel), string(status)).Inc()

	event := newEvent(model.EventMessageStatus, threadID, msg.From.ID, d.clock.Now())
	event.MessageID = msg.ID
	event.Status = string(status)
	publish(ctx, d.events, d.logger, event)
	return true
}
