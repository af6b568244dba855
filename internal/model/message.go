package model

import (
	"time"
)

// Channel is the medium a message travels over.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelVoiceCall Channel = "voice_call"
	ChannelSystem    Channel = "system"
)

// SendableChannels are the channels a broker can send text messages on.
var SendableChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}

// IsSendable reports whether c accepts text messages from a broker.
func (c Channel) IsSendable() bool {
	for _, s := range SendableChannels {
		if c == s {
			return true
		}
	}
	return false
}

// Direction tells whether a message was sent or received by the broker.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParticipantRole identifies which side of a thread a participant is on.
type ParticipantRole string

const (
	RoleBroker  ParticipantRole = "broker"
	RoleShipper ParticipantRole = "shipper"
	RoleSystem  ParticipantRole = "system"
)

// MessageStatus tracks delivery progress of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusResponded MessageStatus = "responded"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
	StatusResponded: 3,
}

// Terminal reports whether no further status change is allowed.
func (s MessageStatus) Terminal() bool {
	return s == StatusResponded || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// progression forward-only.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	n, ok := statusRank[next]
	return ok && n > cur
}

// Sentiment is the coarse tone classification of a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Participant is one end of a message.
type Participant struct {
	ID      string          `json:"id" yaml:"id"`
	Name    string          `json:"name" yaml:"name"`
	Contact string          `json:"contact" yaml:"contact"`
	Role    ParticipantRole `json:"type" yaml:"type"`
}

// MessageMetadata carries optional per-message details.
type MessageMetadata struct {
	TemplateUsed         string   `json:"template_used,omitempty" yaml:"template_used,omitempty"`
	CallDuration         int      `json:"call_duration,omitempty" yaml:"call_duration,omitempty"`
	Attachments          []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	DeliveryConfirmation bool     `json:"delivery_confirmation,omitempty" yaml:"delivery_confirmation,omitempty"`
	ReadReceipt          bool     `json:"read_receipt,omitempty" yaml:"read_receipt,omitempty"`
	ResponseTime         float64  `json:"response_time,omitempty" yaml:"response_time,omitempty"`
}

// Message is a single entry in a thread's log.
type Message struct {
	// Identity
	ID       string `json:"id" yaml:"id"`
	ThreadID string `json:"thread_id" yaml:"thread_id"`

	// Routing
	Channel   Channel     `json:"type" yaml:"type"`
	Direction Direction   `json:"direction" yaml:"direction"`
	From      Participant `json:"from" yaml:"from"`
	To        Participant `json:"to" yaml:"to"`

	// Content
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Content string `json:"content" yaml:"content"`

	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Status    MessageStatus    `json:"status" yaml:"status"`
	Metadata  *MessageMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Derived
	Sentiment        Sentiment `json:"sentiment,omitempty" yaml:"sentiment,omitempty"`
	Summary          string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	FollowUpRequired bool      `json:"follow_up_required,omitempty" yaml:"follow_up_required,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.Attachments != nil {
			md.Attachments = append([]string(nil), m.Metadata.Attachments...)
		}
		c.Metadata = &md
	}
	return &c
}

// SendMessageRequest is the request to send a message on a thread.
type SendMessageRequest struct {
	Channel    Channel `json:"channel"`
	Content    string  `json:"content"`
	TemplateID string  `json:"template_id,omitempty"`
}

// ErrorEvent represents an error payload.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
