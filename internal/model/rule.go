package model

// RuleTrigger names what a follow-up rule reacts to.
type RuleTrigger string

const (
	TriggerNoResponse         RuleTrigger = "no_response"
	TriggerTimeBased          RuleTrigger = "time_based"
	TriggerStatusChange       RuleTrigger = "status_change"
	TriggerPriorityEscalation RuleTrigger = "priority_escalation"
)

// ActionType is what a follow-up rule does when it fires.
type ActionType string

const (
	ActionEmail        ActionType = "email"
	ActionSMS          ActionType = "sms"
	ActionWhatsApp     ActionType = "whatsapp"
	ActionTaskCreation ActionType = "task_creation"
	ActionEscalation   ActionType = "escalation"
)

// Dispatches reports whether the action sends a message through the dispatcher.
func (a ActionType) Dispatches() bool {
	return a == ActionEmail || a == ActionSMS
}

// RuleCondition restricts which threads a rule applies to. Empty lists
// impose no constraint.
type RuleCondition struct {
	TimeDelay  *float64 `json:"time_delay,omitempty" yaml:"time_delay,omitempty"`
	Statuses   []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Priorities []string `json:"priorities,omitempty" yaml:"priorities,omitempty"`
	LoadTypes  []string `json:"load_types,omitempty" yaml:"load_types,omitempty"`
}

// RuleAction is what happens when the rule fires.
type RuleAction struct {
	Type       ActionType `json:"type" yaml:"type"`
	TemplateID string     `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Message    string     `json:"message,omitempty" yaml:"message,omitempty"`
	AssignTo   string     `json:"assign_to,omitempty" yaml:"assign_to,omitempty"`
}

// FollowUpRule is a conditional policy applied to due threads.
type FollowUpRule struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	Trigger       RuleTrigger   `json:"trigger" yaml:"trigger"`
	Condition     RuleCondition `json:"condition" yaml:"condition"`
	Action        RuleAction    `json:"action" yaml:"action"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Effectiveness float64       `json:"effectiveness" yaml:"effectiveness"`
}

// Clone returns a deep copy of the rule.
func (r *FollowUpRule) Clone() *FollowUpRule {
	c := *r
	if r.Condition.TimeDelay != nil {
		v := *r.Condition.TimeDelay
		c.Condition.TimeDelay = &v
	}
	c.Condition.Statuses = append([]string(nil), r.Condition.Statuses...)
	c.Condition.Priorities = append([]string(nil), r.Condition.Priorities...)
	c.Condition.LoadTypes = append([]string(nil), r.Condition.LoadTypes...)
	return &c
}

// SetRuleEnabledRequest toggles a rule.
type SetRuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}
