package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
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

const (
	// BrokerCallerID is the number simulated calls are placed from.
	BrokerCallerID = "+1-555-BROKER"

	// DefaultCallSummary is used when no summarizer is configured or it fails.
	DefaultCallSummary = "Positive negotiation call. Shipper interested but needs team approval. Follow-up scheduled for tomorrow."

	callPendingSummary = "Initiating call..."
)

var defaultFollowUpActions = []string{
	"Send formal rate confirmation email",
	"Schedule follow-up call for tomorrow",
	"Prepare slight rate adjustment proposal",
}

// CallRecorderConfig tunes call simulation.
type CallRecorderConfig struct {
	// CompletionDelay is how long a call stays initiated. Defaults to 3s.
	CompletionDelay time.Duration
	// Duration draws the simulated call length. Defaults to [2m, 12m).
	Duration func() time.Duration
	// SummaryTimeout bounds the summarizer call. Defaults to 20s.
	SummaryTimeout time.Duration
}

func (c CallRecorderConfig) withDefaults() CallRecorderConfig {
	if c.CompletionDelay <= 0 {
		c.CompletionDelay = 3 * time.Second
	}
	if c.Duration == nil {
		c.Duration = func() time.Duration {
			return time.Duration(120+rand.IntN(600)) * time.Second
		}
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 20 * time.Second
	}
	return c
}

// CallRecorder simulates voice calls and logs them on their thread.
type CallRecorder struct {
	threads    *ThreadStore
	events     EventPublisher
	persister  Persister
	summarizer Summarizer
	archive    RecordingArchive
	clock      clock.Clock
	logger     *logger.Logger
	config     CallRecorderConfig
	tracer     trace.Tracer

	tasks *taskSet
	calls map[string]*model.VoiceCall
	mu    sync.RWMutex
}

// NewCallRecorder creates a call recorder. summarizer and archive are
// optional.
func NewCallRecorder(
	threads *ThreadStore,
	events EventPublisher,
	persister Persister,
	summarizer Summarizer,
	archive RecordingArchive,
	clk clock.Clock,
	log *logger.Logger,
	cfg CallRecorderConfig,
) *CallRecorder {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CallRecorder{
		threads:    threads,
		events:     orNopPublisher(events),
		persister:  orNopPersister(persister),
		summarizer: summarizer,
		archive:    archive,
		clock:      clk,
		logger:     orNopLogger(log),
		config:     cfg.withDefaults(),
		tracer:     tracing.Tracer("service.calls"),
		tasks:      newTaskSet(clk),
		calls:      make(map[string]*model.VoiceCall),
	}
}

// MakeCall starts a simulated call on a thread. The returned session is
// provisional; it completes in the background after the completion delay.
func (r *CallRecorder) MakeCall(ctx context.Context, threadID, toNumber, script string) (*model.VoiceCall, error) {
	ctx, span := r.tracer.Start(ctx, "CallRecorder.MakeCall", trace.WithAttributes(
		attribute.String("thread_id", threadID),
	))
	defer span.End()

	thread, err := r.threads.Get(threadID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	call := &model.VoiceCall{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ThreadID:        threadID,
		From:            BrokerCallerID,
		To:              toNumber,
		Status:          model.CallInitiated,
		Summary:         callPendingSummary,
		Outcome:         model.OutcomeSuccessful,
		FollowUpActions: []string{},
		Timestamp:       r.clock.Now(),
	}

	r.mu.Lock()
	r.calls[call.ID] = call
	snapshot := call.Clone()
	r.mu.Unlock()

	r.save(ctx, snapshot)

	r.tasks.schedule(call.ID, r.config.CompletionDelay, func() {
		r.complete(call.ID, thread, script)
	})

	r.logger.Info("call initiated",
		zap.String("thread_id", threadID),
		zap.String("call_id", call.ID),
	)
	return snapshot, nil
}

// GetCall retrieves a call session by ID.
func (r *CallRecorder) GetCall(id string) (*model.VoiceCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", model.ErrCallNotFound, id)
	}
	return call.Clone(), nil
}

// ListCalls returns the calls placed on a thread, oldest first.
func (r *CallRecorder) ListCalls(threadID string) []model.VoiceCall {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.VoiceCall{}
	for _, call := range r.calls {
		if call.ThreadID == threadID {
			out = append(out, *call.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Close cancels calls that have not completed yet.
func (r *CallRecorder) Close() {
	r.tasks.close()
}

func (r *CallRecorder) complete(callID string, thread *model.Thread, script string) {
	ctx := context.Background()
	log := r.logger.With(zap.String("thread_id", thread.ID), zap.String("call_id", callID))

	r.mu.RLock()
	started := r.calls[callID].Timestamp
	r.mu.RUnlock()

	duration := r.config.Duration()
	transcript := CallTranscript(thread, script, started, started.Add(duration))
	summary := r.summarize(ctx, log, transcript)

	r.mu.Lock()
	call := r.calls[callID]
	call.Duration = int(duration / time.Second)
	call.Transcript = transcript
	call.Summary = summary
	call.FollowUpActions = append([]string(nil), defaultFollowUpActions...)
	call.Status = model.CallCompleted
	snapshot := call.Clone()
	r.mu.Unlock()

	if r.archive != nil {
		location, err := r.archive.Store(ctx, snapshot)
		if err != nil {
			log.Warn("failed to archive call recording", zap.Error(err))
		} else {
			snapshot.Recording = location
			r.mu.Lock()
			r.calls[callID].Recording = location
			r.mu.Unlock()
		}
	}

	// The message is stamped when it joins the log; the call keeps its start time.
	completedAt := r.clock.Now()
	_, err := r.threads.AppendMessage(ctx, thread.ID, completedAt, false, func(t *model.Thread) model.Message {
		return model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Channel:   model.ChannelVoiceCall,
			Direction: model.DirectionOutbound,
			From: model.Participant{
				ID:      t.BrokerID,
				Name:    t.BrokerName,
				Contact: BrokerCallerID,
				Role:    model.RoleBroker,
			},
			To: model.Participant{
				ID:      t.ShipperID,
				Name:    t.ShipperName,
				Contact: snapshot.To,
				Role:    model.RoleShipper,
			},
			Content:   fmt.Sprintf("Voice call completed (%s)\n\nSummary: %s", formatCallDuration(snapshot.Duration), summary),
			Timestamp: completedAt,
			Status:    model.StatusDelivered,
			Metadata:  &model.MessageMetadata{CallDuration: snapshot.Duration},
			Sentiment: model.SentimentPositive,
			Summary:   summary,
		}
	})
	if err != nil {
		log.Warn("call completed on a missing thread", zap.Error(err))
		r.mu.Lock()
		r.calls[callID].Status = model.CallFailed
		snapshot.Status = model.CallFailed
		r.mu.Unlock()
	}

	r.save(ctx, snapshot)
	metrics.CallsCompleted.WithLabelValues(string(snapshot.Outcome)).Inc()

	event := newEvent(model.EventCallCompleted, thread.ID, thread.BrokerID, r.clock.Now())
	event.CallID = callID
	event.Status = string(snapshot.Status)
	event.Payload = map[string]any{
		"duration": snapshot.Duration,
		"outcome":  string(snapshot.Outcome),
	}
	publish(ctx, r.events, r.logger, event)

	log.Info("call completed", zap.Int("duration_seconds", snapshot.Duration))
}

func (r *CallRecorder) summarize(ctx context.Context, log *logger.Logger, transcript string) string {
	if r.summarizer == nil {
		return DefaultCallSummary
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.SummaryTimeout)
	defer cancel()

	summary, err := r.summarizer.Summarize(ctx, transcript)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Warn("falling back to default call summary", zap.Error(err))
		return DefaultCallSummary
	}
	return strings.TrimSpace(summary)
}

func (r *CallRecorder) save(ctx context.Context, call *model.VoiceCall) {
	if err := r.persister.SaveCall(ctx, call); err != nil {
		metrics.PersistenceErrors.WithLabelValues("call").Inc()
		r.logger.Warn("failed to persist call", zap.String("call_id", call.ID), zap.Error(err))
	}
}

// formatCallDuration renders seconds as m:ss.
func formatCallDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// CallTranscript synthesizes the dialogue of a simulated negotiation call.
// A non-empty script replaces the broker's opening pitch.
func CallTranscript(thread *model.Thread, script string, started, ended time.Time) string {
	regarding := "your shipment"
	if thread.LoadID != "" {
		regarding = "load " + thread.LoadID
	}
	pitch := "I wanted to follow up on our rate quote. We're very competitive at our current pricing."
	if s := strings.TrimSpace(script); s != "" {
		pitch = s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Call started - %s]\n\n", started.Format("3:04:05 PM"))
	fmt.Fprintf(&b, "Broker: Hello, this is %s from FleetFlow regarding %s.\n\n", thread.BrokerName, regarding)
	b.WriteString("Shipper: Hi, thanks for calling.\n\n")
	fmt.Fprintf(&b, "Broker: %s\n\n", pitch)
	b.WriteString("Shipper: We're reviewing several options. What's your best rate?\n\n")
	b.WriteString("Broker: Given your volume and our relationship, I can offer a slight adjustment to ensure we win your business.\n\n")
	b.WriteString("Shipper: That sounds reasonable. Let me discuss with my team and get back to you.\n\n")
	b.WriteString("Broker: Perfect, I'll send a formal confirmation. When can I expect to hear back?\n\n")
	b.WriteString("Shipper: By end of day tomorrow.\n\n")
	b.WriteString("Broker: Great, I'll follow up then. Thanks for your time!\n\n")
	fmt.Fprintf(&b, "[Call ended - %s]", ended.Format("3:04:05 PM"))
	return b.String()
}
