package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetflow/broker-comms/internal/clock"
	"github.com/fleetflow/broker-comms/internal/model"
)

var testNow = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.ThreadEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *model.ThreadEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) ofType(t model.EventType) []*model.ThreadEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*model.ThreadEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memPersister struct {
	mu        sync.Mutex
	threads   map[string]*model.Thread
	templates map[string]*model.Template
	calls     map[string]*model.VoiceCall
	err       error
}

func newMemPersister() *memPersister {
	return &memPersister{
		threads:   make(map[string]*model.Thread),
		templates: make(map[string]*model.Template),
		calls:     make(map[string]*model.VoiceCall),
	}
}

func (p *memPersister) SaveThread(_ context.Context, t *model.Thread) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[t.ID] = t.Clone()
	return p.err
}

func (p *memPersister) SaveTemplate(_ context.Context, t *model.Template) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[t.ID] = t.Clone()
	return p.err
}

func (p *memPersister) SaveCall(_ context.Context, c *model.VoiceCall) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[c.ID] = c.Clone()
	return p.err
}

type stubGateway struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (g *stubGateway) Deliver(_ context.Context, msg *model.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = append(g.delivered, msg.ID)
	return g.err
}

var errStub = errors.New("stub failure")

func newTestThread(id, brokerID string) *model.Thread {
	created := testNow.Add(-48 * time.Hour)
	return &model.Thread{
		ID:          id,
		LoadID:      "LOAD-" + id,
		ShipperID:   "shipper_" + id,
		ShipperName: "Shipper " + id,
		ShipperContact: model.ShipperContact{
			Email:           id + "@shipper.example",
			Phone:           "+1-555-0100",
			PreferredMethod: "email",
		},
		BrokerID:   brokerID,
		BrokerName: "Broker " + brokerID,
		Subject:    "Rate quote for " + id,
		Status:     model.ThreadActive,
		Priority:   model.PriorityNormal,
		Messages:   []model.Message{},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func newTestTemplate(id string, category model.TemplateCategory, usage int) *model.Template {
	return &model.Template{
		ID:            id,
		Name:          "Template " + id,
		Type:          model.TemplateEmail,
		Category:      category,
		Subject:       "Load {LOAD_ID}",
		Body:          "Hi {SHIPPER_NAME}, rate for {LOAD_ID} is {RATE}.",
		Variables:     []string{"SHIPPER_NAME", "LOAD_ID", "RATE"},
		Usage:         usage,
		Effectiveness: 50,
	}
}

// testCore wires the core components on a fake clock with fixed delays.
type testCore struct {
	clock      *clock.Fake
	events     *recordingPublisher
	persister  *memPersister
	gateway    *stubGateway
	threads    *ThreadStore
	templates  *TemplateStore
	dispatcher *Dispatcher
}

const (
	testDeliveryDelay = 10 * time.Second
	testReadDelay     = 7 * time.Minute
)

func newTestCore(t *testing.T) *testCore {
	t.Helper()

	c := &testCore{
		clock:     clock.NewFake(testNow),
		events:    &recordingPublisher{},
		persister: newMemPersister(),
		gateway:   &stubGateway{},
	}
	c.threads = NewThreadStore(c.persister, nil)
	c.templates = NewTemplateStore(c.persister, nil)
	c.dispatcher = NewDispatcher(c.threads, c.templates, c.gateway, c.events, c.clock, nil, DispatcherConfig{
		DeliveryDelay: func() time.Duration { return testDeliveryDelay },
		ReadDelay:     func() time.Duration { return testReadDelay },
	})
	t.Cleanup(c.dispatcher.Close)
	return c
}

func floatPtr(v float64) *float64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }
