package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

// TemplateStore holds message templates and their usage counters.
type TemplateStore struct {
	persister Persister
	logger    *logger.Logger

	templates map[string]*model.Template
	order     []string
	mu        sync.RWMutex
}

// NewTemplateStore creates an empty template store.
func NewTemplateStore(persister Persister, log *logger.Logger) *TemplateStore {
	return &TemplateStore{
		persister: orNopPersister(persister),
		logger:    orNopLogger(log),
		templates: make(map[string]*model.Template),
	}
}

// Add registers a template, replacing any template with the same ID.
func (s *TemplateStore) Add(tmpl *model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tmpl.ID]; !exists {
		s.order = append(s.order, tmpl.ID)
	}
	s.templates[tmpl.ID] = tmpl.Clone()
}

// Get retrieves a template by ID.
func (s *TemplateStore) Get(id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, exists := s.templates[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", model.ErrTemplateNotFound, id)
	}
	return tmpl.Clone(), nil
}

// List returns templates ordered by usage, most used first. An empty
// category or "all" returns every template.
func (s *TemplateStore) List(category string) []model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Template, 0, len(s.order))
	for _, id := range s.order {
		tmpl := s.templates[id]
		if category != "" && category != "all" && string(tmpl.Category) != category {
			continue
		}
		out = append(out, *tmpl.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Usage > out[j].Usage
	})
	return out
}

// Top returns the n most used templates.
func (s *TemplateStore) Top(n int) []model.TemplateStat {
	all := s.List("")
	if len(all) > n {
		all = all[:n]
	}

	stats := make([]model.TemplateStat, len(all))
	for i, tmpl := range all {
		stats[i] = model.TemplateStat{
			TemplateID:    tmpl.ID,
			Name:          tmpl.Name,
			Usage:         tmpl.Usage,
			Effectiveness: tmpl.Effectiveness,
		}
	}
	return stats
}

// Process substitutes every {KEY} occurrence for each supplied variable.
// Substitution is literal and case-sensitive; placeholders without a
// supplied value are left as they are.
func (s *TemplateStore) Process(id string, variables map[string]string) (*model.RenderedTemplate, error) {
	tmpl, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	r := newPlaceholderReplacer(variables)
	out := &model.RenderedTemplate{Content: r.Replace(tmpl.Body)}
	if tmpl.Subject != "" {
		subject := r.Replace(tmpl.Subject)
		out.Subject = &subject
	}
	return out, nil
}

// IncrementUsage bumps a template's usage counter. It reports false when
// the template does not exist.
func (s *TemplateStore) IncrementUsage(ctx context.Context, id string) bool {
	s.mu.Lock()
	tmpl, exists := s.templates[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	tmpl.Usage++
	snapshot := tmpl.Clone()
	s.mu.Unlock()

	if err := s.persister.SaveTemplate(ctx, snapshot); err != nil {
		metrics.PersistenceErrors.WithLabelValues("template").Inc()
		s.logger.Warn("failed to persist template", zap.String("template_id", id), zap.Error(err))
	}
	return true
}

// newPlaceholderReplacer builds a replacer that swaps all placeholders in a
// single pass, so substituted values are never themselves expanded.
func newPlaceholderReplacer(variables map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", variables[k])
	}
	return strings.NewReplacer(pairs...)
}

// Placeholders returns the distinct {NAME} placeholders referenced by text,
// in order of first appearance.
func Placeholders(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for {
		start := strings.IndexByte(text, '{')
		if start < 0 {
			return names
		}
		end := strings.IndexByte(text[start+1:], '}')
		if end < 0 {
			return names
		}
		name := text[start+1 : start+1+end]
		if name == "" || strings.ContainsAny(name, "{ \n") {
			text = text[start+1:]
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		text = text[start+1+end+1:]
	}
}
