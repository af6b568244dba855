// Package seed loads the initial templates, threads and follow-up rules.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/internal/service"
)

//go:embed default.yaml
var defaultData []byte

// Data is the contents of a seed file.
type Data struct {
	Templates []model.Template     `yaml:"templates"`
	Threads   []model.Thread       `yaml:"threads"`
	Rules     []model.FollowUpRule `yaml:"rules"`
}

// Default returns the embedded seed data.
func Default() (*Data, error) {
	return Parse(defaultData)
}

// Load reads seed data from path, or the embedded default when path is
// empty.
func Load(path string) (*Data, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML seed data and rejects unknown fields.
func Parse(raw []byte) (*Data, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var d Data
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("seed: parse: %w", err)
	}
	for i := range d.Threads {
		if d.Threads[i].Messages == nil {
			d.Threads[i].Messages = []model.Message{}
		}
	}
	return &d, nil
}

// Validate checks referential integrity. Errors make the data unusable;
// warnings flag placeholders a template uses without declaring.
func (d *Data) Validate() (warnings []string, err error) {
	var errs []error

	templateIDs := make(map[string]bool, len(d.Templates))
	for _, tmpl := range d.Templates {
		if tmpl.ID == "" {
			errs = append(errs, errors.New("template with empty id"))
			continue
		}
		if templateIDs[tmpl.ID] {
			errs = append(errs, fmt.Errorf("duplicate template %q", tmpl.ID))
		}
		templateIDs[tmpl.ID] = true

		for _, name := range service.Placeholders(tmpl.Subject + "\n" + tmpl.Body) {
			if !slices.Contains(tmpl.Variables, name) {
				warnings = append(warnings, fmt.Sprintf("template %q uses undeclared placeholder {%s}", tmpl.ID, name))
			}
		}
	}

	threadIDs := make(map[string]bool, len(d.Threads))
	for _, th := range d.Threads {
		if th.ID == "" {
			errs = append(errs, errors.New("thread with empty id"))
			continue
		}
		if threadIDs[th.ID] {
			errs = append(errs, fmt.Errorf("duplicate thread %q", th.ID))
		}
		threadIDs[th.ID] = true

		if th.BrokerID == "" {
			errs = append(errs, fmt.Errorf("thread %q has no broker", th.ID))
		}
		if th.UpdatedAt.Before(th.CreatedAt) {
			errs = append(errs, fmt.Errorf("thread %q updated before it was created", th.ID))
		}
		for _, msg := range th.Messages {
			if msg.ThreadID != "" && msg.ThreadID != th.ID {
				errs = append(errs, fmt.Errorf("message %q in thread %q references thread %q", msg.ID, th.ID, msg.ThreadID))
			}
		}
	}

	ruleIDs := make(map[string]bool, len(d.Rules))
	for _, rule := range d.Rules {
		if ruleIDs[rule.ID] {
			errs = append(errs, fmt.Errorf("duplicate rule %q", rule.ID))
		}
		ruleIDs[rule.ID] = true

		if id := rule.Action.TemplateID; id != "" && !templateIDs[id] {
			errs = append(errs, fmt.Errorf("rule %q references unknown template %q", rule.ID, id))
		}
		if rule.Action.Type.Dispatches() && rule.Action.TemplateID == "" && rule.Action.Message == "" {
			errs = append(errs, fmt.Errorf("rule %q sends %s with no message or template", rule.ID, rule.Action.Type))
		}
	}

	return warnings, errors.Join(errs...)
}

// Apply loads the data into the core stores, keeping rule order.
func (d *Data) Apply(templates *service.TemplateStore, threads *service.ThreadStore, engine *service.FollowUpEngine) {
	for i := range d.Templates {
		templates.Add(&d.Templates[i])
	}
	for i := range d.Threads {
		threads.Add(&d.Threads[i])
	}
	for i := range d.Rules {
		engine.AddRule(&d.Rules[i])
	}
}

// Persist writes the templates and threads through p.
func (d *Data) Persist(ctx context.Context, p service.Persister) error {
	for i := range d.Templates {
		if err := p.SaveTemplate(ctx, &d.Templates[i]); err != nil {
			return fmt.Errorf("seed: save template %s: %w", d.Templates[i].ID, err)
		}
	}
	for i := range d.Threads {
		if err := p.SaveThread(ctx, &d.Threads[i]); err != nil {
			return fmt.Errorf("seed: save thread %s: %w", d.Threads[i].ID, err)
		}
	}
	return nil
}
