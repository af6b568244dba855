package model

import (
	"time"
)

// CallStatus is the state of a voice call session.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallCompleted CallStatus = "completed"
	CallMissed    CallStatus = "missed"
	CallFailed    CallStatus = "failed"
)

// CallOutcome is the business result of a completed call.
type CallOutcome string

const (
	OutcomeSuccessful           CallOutcome = "successful"
	OutcomeCallbackRequired     CallOutcome = "callback_required"
	OutcomeNegotiationContinues CallOutcome = "negotiation_continues"
	OutcomeDealClosed           CallOutcome = "deal_closed"
)

// VoiceCall is a simulated call placed from a thread.
type VoiceCall struct {
	ID              string      `json:"id"`
	ThreadID        string      `json:"thread_id"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	Duration        int         `json:"duration"`
	Status          CallStatus  `json:"status"`
	Recording       string      `json:"recording,omitempty"`
	Transcript      string      `json:"transcript,omitempty"`
	Summary         string      `json:"summary"`
	Outcome         CallOutcome `json:"outcome"`
	FollowUpActions []string    `json:"follow_up_actions"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Clone returns a deep copy of the call.
func (c *VoiceCall) Clone() *VoiceCall {
	v := *c
	v.FollowUpActions = append([]string(nil), c.FollowUpActions...)
	return &v
}

// MakeCallRequest is the request to place a call on a thread.
type MakeCallRequest struct {
	ToNumber string `json:"to_number"`
	Script   string `json:"script,omitempty"`
}
