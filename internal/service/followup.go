package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/clock"
	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
	"github.com/fleetflow/broker-comms/pkg/tracing"
)

// DefaultFollowUpSchedule runs the engine once a minute.
const DefaultFollowUpSchedule = "@every 1m"

// defaultFollowUpDelay applies when a rule sets no time delay.
const defaultFollowUpDelay = 24 * time.Hour

// scheduleParser accepts standard 5-field expressions and descriptors such
// as "@every 30s".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable engine schedule.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid follow-up schedule %q: %w", expr, err)
	}
	return nil
}

// FollowUpEngine periodically sends follow-ups on threads that are due.
type FollowUpEngine struct {
	threads    *ThreadStore
	templates  *TemplateStore
	dispatcher *Dispatcher
	events     EventPublisher
	clock      clock.Clock
	logger     *logger.Logger
	tracer     trace.Tracer
	schedule   string

	rules []*model.FollowUpRule
	mu    sync.RWMutex

	ticking atomic.Bool

	cron   *cron.Cron
	cronMu sync.Mutex
}

// NewFollowUpEngine creates an engine with no rules. An empty schedule uses
// DefaultFollowUpSchedule.
func NewFollowUpEngine(
	threads *ThreadStore,
	templates *TemplateStore,
	dispatcher *Dispatcher,
	events EventPublisher,
	clk clock.Clock,
	log *logger.Logger,
	schedule string,
) *FollowUpEngine {
	if clk == nil {
		clk = clock.Real{}
	}
	if schedule == "" {
		schedule = DefaultFollowUpSchedule
	}
	return &FollowUpEngine{
		threads:    threads,
		templates:  templates,
		dispatcher: dispatcher,
		events:     orNopPublisher(events),
		clock:      clk,
		logger:     orNopLogger(log),
		tracer:     tracing.Tracer("service.followup"),
		schedule:   schedule,
	}
}

// AddRule registers a rule. Rules are evaluated in registration order; a
// rule with an existing ID keeps its position.
func (e *FollowUpEngine) AddRule(rule *model.FollowUpRule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == rule.ID {
			e.rules[i] = rule.Clone()
			return
		}
	}
	e.rules = append(e.rules, rule.Clone())
}

// Rules returns the registered rules in evaluation order.
func (e *FollowUpEngine) Rules() []model.FollowUpRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.FollowUpRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r.Clone()
	}
	return out
}

// SetRuleEnabled toggles a rule.
func (e *FollowUpEngine) SetRuleEnabled(id string, enabled bool) (*model.FollowUpRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == id {
			r.Enabled = enabled
			e.logger.Info("follow-up rule toggled", zap.String("rule_id", id), zap.Bool("enabled", enabled))
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", model.ErrRuleNotFound, id)
}

// RuleApplies reports whether every populated condition of rule holds for
// thread. Empty condition lists impose no constraint.
func RuleApplies(rule *model.FollowUpRule, thread *model.Thread) bool {
	c := rule.Condition
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, string(thread.Status)) {
		return false
	}
	if len(c.Priorities) > 0 && !slices.Contains(c.Priorities, string(thread.Priority)) {
		return false
	}
	if len(c.LoadTypes) > 0 && !slices.Contains(c.LoadTypes, thread.LoadType) {
		return false
	}
	return true
}

// firstMatch returns the first enabled rule that applies to thread.
func (e *FollowUpEngine) firstMatch(thread *model.Thread) *model.FollowUpRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.Enabled && RuleApplies(r, thread) {
			return r.Clone()
		}
	}
	return nil
}

// Tick runs one pass over the due threads and returns how many follow-ups
// fired. A tick that starts while another is running returns 0 immediately.
func (e *FollowUpEngine) Tick(ctx context.Context) int {
	if !e.ticking.CompareAndSwap(false, true) {
		metrics.FollowUpTicksSkipped.Inc()
		return 0
	}
	defer e.ticking.Store(false)

	ctx, span := e.tracer.Start(ctx, "FollowUpEngine.Tick")
	defer span.End()

	started := time.Now()
	defer func() {
		metrics.FollowUpTickDuration.Observe(time.Since(started).Seconds())
	}()

	now := e.clock.Now()
	due := e.threads.DueForFollowUp(now)

	fired := 0
	for _, threadID := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := e.executeSafely(ctx, threadID, now)
		if err != nil {
			metrics.FollowUpErrors.Inc()
			e.logger.Error("follow-up failed", zap.String("thread_id", threadID), zap.Error(err))
			continue
		}
		if ok {
			fired++
		}
	}

	span.SetAttributes(
		attribute.Int("followup.due", len(due)),
		attribute.Int("followup.fired", fired),
	)
	if fired > 0 {
		e.logger.Info("follow-up tick complete", zap.Int("due", len(due)), zap.Int("fired", fired))
	}
	return fired
}

func (e *FollowUpEngine) executeSafely(ctx context.Context, threadID string, now time.Time) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during follow-up: %v", r)
		}
	}()
	return e.execute(ctx, threadID, now)
}

func (e *FollowUpEngine) execute(ctx context.Context, threadID string, now time.Time) (bool, error) {
	thread, err := e.threads.Get(threadID)
	if err != nil {
		return false, err
	}

	rule := e.firstMatch(thread)
	if rule == nil {
		return false, nil
	}

	log := e.logger.WithThread(threadID).With(zap.String("rule_id", rule.ID))

	var messageID string
	if rule.Action.Type.Dispatches() {
		content := rule.Action.Message
		if rule.Action.TemplateID != "" {
			if tmpl, err := e.templates.Get(rule.Action.TemplateID); err == nil {
				content = tmpl.Body
			}
		}

		msg, err := e.dispatcher.Send(ctx, threadID, model.Channel(rule.Action.Type), content, rule.Action.TemplateID)
		if err != nil {
			return false, fmt.Errorf("failed to send follow-up: %w", err)
		}
		messageID = msg.ID
	} else {
		event := newEvent(model.EventFollowUpEscalated, threadID, thread.BrokerID, now)
		event.RuleID = rule.ID
		event.Payload = map[string]any{
			"action":    string(rule.Action.Type),
			"assign_to": rule.Action.AssignTo,
			"message":   rule.Action.Message,
		}
		publish(ctx, e.events, log, event)
	}

	delay := defaultFollowUpDelay
	if rule.Condition.TimeDelay != nil {
		delay = time.Duration(*rule.Condition.TimeDelay * float64(time.Hour))
	}
	next := now.Add(delay)
	if err := e.threads.SetNextFollowUp(ctx, threadID, next); err != nil {
		return false, err
	}

	metrics.FollowUpsFired.WithLabelValues(rule.ID, string(rule.Action.Type)).Inc()

	event := newEvent(model.EventFollowUpFired, threadID, thread.BrokerID, now)
	event.RuleID = rule.ID
	event.MessageID = messageID
	event.Payload = map[string]any{"next_follow_up": next}
	publish(ctx, e.events, log, event)

	log.Info("follow-up fired",
		zap.String("action", string(rule.Action.Type)),
		zap.Time("next_follow_up", next),
	)
	return true, nil
}

// Start schedules Tick on the engine's cron schedule. Ticks use ctx; Stop
// must be called to release the scheduler.
func (e *FollowUpEngine) Start(ctx context.Context) error {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()

	if e.cron != nil {
		return fmt.Errorf("follow-up engine already started")
	}

	cl := cronLogger{log: e.logger}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(e.schedule, func() { e.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid follow-up schedule %q: %w", e.schedule, err)
	}

	c.Start()
	e.cron = c
	e.logger.Info("follow-up engine started", zap.String("schedule", e.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running tick to finish.
func (e *FollowUpEngine) Stop() {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	e.logger.Info("follow-up engine stopped")
}

// cronLogger routes scheduler logs through zap.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
