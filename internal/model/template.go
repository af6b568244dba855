package model

// TemplateType is the channel a template is written for.
type TemplateType string

const (
	TemplateEmail       TemplateType = "email"
	TemplateSMS         TemplateType = "sms"
	TemplateWhatsApp    TemplateType = "whatsapp"
	TemplateVoiceScript TemplateType = "voice_script"
)

// TemplateCategory groups templates by purpose.
type TemplateCategory string

const (
	CategoryNegotiation  TemplateCategory = "negotiation"
	CategoryFollowUp     TemplateCategory = "follow_up"
	CategoryConfirmation TemplateCategory = "confirmation"
	CategoryEmergency    TemplateCategory = "emergency"
	CategoryMarketing    TemplateCategory = "marketing"
)

// Template is a reusable message skeleton with {VARIABLE} placeholders.
type Template struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	Type          TemplateType     `json:"type" yaml:"type"`
	Category      TemplateCategory `json:"category" yaml:"category"`
	Subject       string           `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body          string           `json:"template" yaml:"template"`
	Variables     []string         `json:"variables" yaml:"variables"`
	Usage         int              `json:"usage" yaml:"usage"`
	Effectiveness float64          `json:"effectiveness" yaml:"effectiveness"`
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	c := *t
	c.Variables = append([]string(nil), t.Variables...)
	return &c
}

// RenderedTemplate is the output of substituting variables into a template.
// Subject is nil when the template has no subject line.
type RenderedTemplate struct {
	Subject *string `json:"subject,omitempty"`
	Content string  `json:"content"`
}

// RenderTemplateRequest is the request to render a template.
type RenderTemplateRequest struct {
	Variables map[string]string `json:"variables"`
}
