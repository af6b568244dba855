// Package model defines data structures for broker communication threads.
package model

import (
	"time"
)

// ThreadStatus is the lifecycle state of a communication thread.
type ThreadStatus string

const (
	ThreadActive          ThreadStatus = "active"
	ThreadPendingResponse ThreadStatus = "pending_response"
	ThreadClosed          ThreadStatus = "closed"
	ThreadArchived        ThreadStatus = "archived"
)

// Priority ranks how urgently a thread needs attention.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// NegotiationStage marks where a thread sits in rate negotiation.
type NegotiationStage string

const (
	StageInitial      NegotiationStage = "initial"
	StageCounteroffer NegotiationStage = "counteroffer"
	StageFinalTerms   NegotiationStage = "final_terms"
	StageClosed       NegotiationStage = "closed"
)

// ShipperContact holds the ways a shipper can be reached.
type ShipperContact struct {
	Email           string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone           string `json:"phone,omitempty" yaml:"phone,omitempty"`
	WhatsApp        string `json:"whatsapp,omitempty" yaml:"whatsapp,omitempty"`
	PreferredMethod string `json:"preferred_method" yaml:"preferred_method"`
}

// Thread is a conversation between a broker and a shipper.
type Thread struct {
	ID               string           `json:"id" yaml:"id"`
	LoadID           string           `json:"load_id,omitempty" yaml:"load_id,omitempty"`
	LoadType         string           `json:"load_type,omitempty" yaml:"load_type,omitempty"`
	ShipperID        string           `json:"shipper_id" yaml:"shipper_id"`
	ShipperName      string           `json:"shipper_name" yaml:"shipper_name"`
	ShipperContact   ShipperContact   `json:"shipper_contact" yaml:"shipper_contact"`
	BrokerID         string           `json:"broker_id" yaml:"broker_id"`
	BrokerName       string           `json:"broker_name" yaml:"broker_name"`
	Subject          string           `json:"subject" yaml:"subject"`
	Status           ThreadStatus     `json:"status" yaml:"status"`
	Priority         Priority         `json:"priority" yaml:"priority"`
	Messages         []Message        `json:"messages" yaml:"messages"`
	Tags             []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt        time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" yaml:"updated_at"`
	NextFollowUp     *time.Time       `json:"next_follow_up,omitempty" yaml:"next_follow_up,omitempty"`
	AutoFollowUp     bool             `json:"auto_follow_up_enabled" yaml:"auto_follow_up_enabled"`
	NegotiationStage NegotiationStage `json:"negotiation_stage,omitempty" yaml:"negotiation_stage,omitempty"`
	ExpectedResponse *time.Time       `json:"expected_response,omitempty" yaml:"expected_response,omitempty"`
}

// Clone returns a deep copy of the thread, safe to hand out of a locked store.
func (t *Thread) Clone() *Thread {
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	for i := range t.Messages {
		c.Messages[i] = *t.Messages[i].Clone()
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.NextFollowUp != nil {
		v := *t.NextFollowUp
		c.NextFollowUp = &v
	}
	if t.ExpectedResponse != nil {
		v := *t.ExpectedResponse
		c.ExpectedResponse = &v
	}
	return &c
}

// ThreadFilter narrows a thread listing. Empty fields and the value "all"
// impose no constraint.
type ThreadFilter struct {
	Status   string
	Priority string
	Search   string
	LoadID   string
}

// ListThreadsResponse is the response for listing threads.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
}
