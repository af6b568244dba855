package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fleetflow/broker-comms/internal/model"
)

func noResponseRule() *model.FollowUpRule {
	return &model.FollowUpRule{
		ID:      "no_response_24h",
		Name:    "No Response - 24 Hour Follow-up",
		Trigger: model.TriggerNoResponse,
		Condition: model.RuleCondition{
			TimeDelay:  floatPtr(24),
			Priorities: []string{"high", "urgent"},
		},
		Action: model.RuleAction{
			Type:    model.ActionSMS,
			Message: "Quick follow-up on our rate quote. Still interested?",
		},
		Enabled:       true,
		Effectiveness: 67.3,
	}
}

func escalationRule() *model.FollowUpRule {
	return &model.FollowUpRule{
		ID:      "negotiation_stalled",
		Name:    "Negotiation Stalled - Manager Escalation",
		Trigger: model.TriggerTimeBased,
		Condition: model.RuleCondition{
			TimeDelay: floatPtr(48),
			Statuses:  []string{"pending_response"},
		},
		Action: model.RuleAction{
			Type:     model.ActionEscalation,
			AssignTo: "manager_001",
			Message:  "Negotiation requires management attention",
		},
		Enabled:       true,
		Effectiveness: 82.1,
	}
}

func newTestEngine(c *testCore, rules ...*model.FollowUpRule) *FollowUpEngine {
	e := NewFollowUpEngine(c.threads, c.templates, c.dispatcher, c.events, c.clock, nil, "")
	for _, r := range rules {
		e.AddRule(r)
	}
	return e
}

func dueThread(id string, status model.ThreadStatus, priority model.Priority) *model.Thread {
	th := newTestThread(id, "broker_1")
	th.Status = status
	th.Priority = priority
	th.AutoFollowUp = true
	th.NextFollowUp = timePtr(testNow.Add(-time.Hour))
	return th
}

func TestRuleApplies(t *testing.T) {
	tests := []struct {
		name      string
		condition model.RuleCondition
		status    model.ThreadStatus
		priority  model.Priority
		loadType  string
		want      bool
	}{
		{"empty condition", model.RuleCondition{}, model.ThreadActive, model.PriorityLow, "", true},
		{"status matches", model.RuleCondition{Statuses: []string{"active"}}, model.ThreadActive, model.PriorityLow, "", true},
		{"status differs", model.RuleCondition{Statuses: []string{"closed"}}, model.ThreadActive, model.PriorityLow, "", false},
		{
			"conjunctive status and priority",
			model.RuleCondition{Statuses: []string{"active"}, Priorities: []string{"urgent"}},
			model.ThreadActive, model.PriorityNormal, "", false,
		},
		{
			"both satisfied",
			model.RuleCondition{Statuses: []string{"active"}, Priorities: []string{"urgent", "normal"}},
			model.ThreadActive, model.PriorityNormal, "", true,
		},
		{"load type matches", model.RuleCondition{LoadTypes: []string{"reefer"}}, model.ThreadActive, model.PriorityLow, "reefer", true},
		{"load type missing", model.RuleCondition{LoadTypes: []string{"reefer"}}, model.ThreadActive, model.PriorityLow, "", false},
		{"time delay is not a match condition", model.RuleCondition{TimeDelay: floatPtr(1)}, model.ThreadClosed, model.PriorityLow, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestThread("a", "broker_1")
			th.Status = tt.status
			th.Priority = tt.priority
			th.LoadType = tt.loadType
			assert.Equal(t, tt.want, RuleApplies(&model.FollowUpRule{Condition: tt.condition}, th))
		})
	}
}

func TestFollowUpEngine_TickSendsOnRuleChannel(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("walmart", model.ThreadActive, model.PriorityHigh))
	e := newTestEngine(c, noResponseRule(), escalationRule())

	fired := e.Tick(context.Background())
	assert.Equal(t, 1, fired)

	th, err := c.threads.Get("walmart")
	require.NoError(t, err)
	require.Len(t, th.Messages, 1)
	msg := th.Messages[0]
	assert.Equal(t, model.ChannelSMS, msg.Channel)
	assert.Equal(t, model.DirectionOutbound, msg.Direction)
	assert.Equal(t, "Quick follow-up on our rate quote. Still interested?", msg.Content)
	assert.Equal(t, model.ThreadPendingResponse, th.Status)
	require.NotNil(t, th.NextFollowUp)
	assert.Equal(t, testNow.Add(24*time.Hour), *th.NextFollowUp)

	firedEvents := c.events.ofType(model.EventFollowUpFired)
	require.Len(t, firedEvents, 1)
	assert.Equal(t, "no_response_24h", firedEvents[0].RuleID)
	assert.Equal(t, msg.ID, firedEvents[0].MessageID)

	// Not due again until the next follow-up time.
	assert.Zero(t, e.Tick(context.Background()))
	th, _ = c.threads.Get("walmart")
	assert.Len(t, th.Messages, 1)
}

func TestFollowUpEngine_DefaultDelayIs24Hours(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a", model.ThreadActive, model.PriorityNormal))
	rule := noResponseRule()
	rule.Condition = model.RuleCondition{}
	e := newTestEngine(c, rule)

	require.Equal(t, 1, e.Tick(context.Background()))
	th, _ := c.threads.Get("a")
	assert.Equal(t, testNow.Add(24*time.Hour), *th.NextFollowUp)
}

func TestFollowUpEngine_FractionalDelay(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a", model.ThreadActive, model.PriorityHigh))
	rule := noResponseRule()
	rule.Condition.TimeDelay = floatPtr(1.5)
	e := newTestEngine(c, rule)

	require.Equal(t, 1, e.Tick(context.Background()))
	th, _ := c.threads.Get("a")
	assert.Equal(t, testNow.Add(90*time.Minute), *th.NextFollowUp)
}

func TestFollowUpEngine_TemplateBodyOverridesMessage(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a", model.ThreadActive, model.PriorityHigh))
	c.templates.Add(&model.Template{
		ID:   "follow_up_no_response",
		Body: "Hi {SHIPPER_NAME}, following up on load {LOAD_ID}.",
	})
	rule := noResponseRule()
	rule.Action.TemplateID = "follow_up_no_response"
	e := newTestEngine(c, rule)

	require.Equal(t, 1, e.Tick(context.Background()))

	th, _ := c.threads.Get("a")
	require.Len(t, th.Messages, 1)
	// The raw template body is sent, placeholders and all.
	assert.Equal(t, "Hi {SHIPPER_NAME}, following up on load {LOAD_ID}.", th.Messages[0].Content)
	assert.Equal(t, "follow_up_no_response", th.Messages[0].Metadata.TemplateUsed)

	tmpl, _ := c.templates.Get("follow_up_no_response")
	assert.Equal(t, 1, tmpl.Usage)
}

func TestFollowUpEngine_FirstMatchWins(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a", model.ThreadPendingResponse, model.PriorityUrgent))
	e := newTestEngine(c, escalationRule(), noResponseRule())

	require.Equal(t, 1, e.Tick(context.Background()))

	th, _ := c.threads.Get("a")
	assert.Empty(t, th.Messages, "escalation sends nothing")
	assert.Equal(t, testNow.Add(48*time.Hour), *th.NextFollowUp)

	escalated := c.events.ofType(model.EventFollowUpEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, "negotiation_stalled", escalated[0].RuleID)
	assert.Equal(t, "manager_001", escalated[0].Payload["assign_to"])
}

func TestFollowUpEngine_NoMatchingRuleLeavesThreadDue(t *testing.T) {
	c := newTestCore(t)
	th := dueThread("a", model.ThreadActive, model.PriorityNormal)
	c.threads.Add(th)
	e := newTestEngine(c, noResponseRule(), escalationRule())

	assert.Zero(t, e.Tick(context.Background()))

	got, _ := c.threads.Get("a")
	assert.Empty(t, got.Messages)
	assert.Equal(t, *th.NextFollowUp, *got.NextFollowUp)
}

func TestFollowUpEngine_SkipsDisabledRulesAndThreads(t *testing.T) {
	c := newTestCore(t)
	off := dueThread("off", model.ThreadActive, model.PriorityHigh)
	off.AutoFollowUp = false
	c.threads.Add(off)
	future := dueThread("future", model.ThreadActive, model.PriorityHigh)
	future.NextFollowUp = timePtr(testNow.Add(time.Minute))
	c.threads.Add(future)
	c.threads.Add(dueThread("due", model.ThreadActive, model.PriorityHigh))

	disabled := noResponseRule()
	disabled.Enabled = false
	e := newTestEngine(c, disabled)

	assert.Zero(t, e.Tick(context.Background()))

	_, err := e.SetRuleEnabled("no_response_24h", true)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Tick(context.Background()))

	for id, want := range map[string]int{"off": 0, "future": 0, "due": 1} {
		th, _ := c.threads.Get(id)
		assert.Len(t, th.Messages, want, id)
	}
}

func TestFollowUpEngine_TickDoesNotReenter(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a", model.ThreadActive, model.PriorityHigh))
	e := newTestEngine(c, noResponseRule())

	e.ticking.Store(true)
	assert.Zero(t, e.Tick(context.Background()))
	th, _ := c.threads.Get("a")
	assert.Empty(t, th.Messages)

	e.ticking.Store(false)
	assert.Equal(t, 1, e.Tick(context.Background()))
}

func TestFollowUpEngine_ThreadFailureDoesNotStopTick(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("a_sms", model.ThreadActive, model.PriorityHigh))
	c.threads.Add(dueThread("b_escalate", model.ThreadPendingResponse, model.PriorityNormal))

	// Without a dispatcher every sms follow-up panics.
	e := NewFollowUpEngine(c.threads, c.templates, nil, c.events, c.clock, nil, "")
	e.AddRule(noResponseRule())
	e.AddRule(escalationRule())

	assert.Equal(t, 1, e.Tick(context.Background()))

	failed, _ := c.threads.Get("a_sms")
	assert.Equal(t, testNow.Add(-time.Hour), *failed.NextFollowUp)
	escalated, _ := c.threads.Get("b_escalate")
	assert.Equal(t, testNow.Add(48*time.Hour), *escalated.NextFollowUp)
}

func TestFollowUpEngine_Rules(t *testing.T) {
	c := newTestCore(t)
	e := newTestEngine(c, noResponseRule(), escalationRule())

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "no_response_24h", rules[0].ID)
	assert.Equal(t, "negotiation_stalled", rules[1].ID)

	replaced := noResponseRule()
	replaced.Name = "renamed"
	e.AddRule(replaced)
	rules = e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "renamed", rules[0].Name)

	rule, err := e.SetRuleEnabled("negotiation_stalled", false)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
	assert.False(t, e.Rules()[1].Enabled)

	_, err = e.SetRuleEnabled("missing", true)
	assert.ErrorIs(t, err, model.ErrRuleNotFound)
}

// Seeds one due high-priority thread and the no-response rule, then runs a
// single tick.
func TestFollowUpEngine_EndToEnd(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(dueThread("thread_walmart_001", model.ThreadActive, model.PriorityHigh))
	e := newTestEngine(c, noResponseRule())

	require.Equal(t, 1, e.Tick(context.Background()))

	th, err := c.threads.Get("thread_walmart_001")
	require.NoError(t, err)
	require.Len(t, th.Messages, 1)
	assert.Equal(t, model.ChannelSMS, th.Messages[0].Channel)
	assert.Equal(t, model.DirectionOutbound, th.Messages[0].Direction)
	assert.Equal(t, model.ThreadPendingResponse, th.Status)
	assert.WithinDuration(t, testNow.Add(24*time.Hour), *th.NextFollowUp, time.Second)

	// The follow-up then goes through simulated delivery like any send.
	c.clock.Advance(time.Minute)
	th, _ = c.threads.Get("thread_walmart_001")
	assert.Equal(t, model.StatusDelivered, th.Messages[0].Status)
}

func TestFollowUpEngine_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newTestCore(t)
	e := NewFollowUpEngine(c.threads, c.templates, c.dispatcher, c.events, c.clock, nil, "@every 1h")

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	e.Stop()
	e.Stop()
}

func TestFollowUpEngine_StartRejectsBadSchedule(t *testing.T) {
	c := newTestCore(t)
	e := NewFollowUpEngine(c.threads, c.templates, c.dispatcher, c.events, c.clock, nil, "every minute")

	assert.Error(t, e.Start(context.Background()))
	e.Stop()
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(DefaultFollowUpSchedule))
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.Error(t, ValidateSchedule("*/5 * * *"))
	assert.Error(t, ValidateSchedule(""))
}
