package service

import (
	"context"
	"errors"
	"sync"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

// Fanout publishes every event to each publisher in order and joins their
// errors. Nil publishers are skipped.
func Fanout(publishers ...EventPublisher) EventPublisher {
	var ps multiPublisher
	for _, p := range publishers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

type multiPublisher []EventPublisher

func (m multiPublisher) Publish(ctx context.Context, event *model.ThreadEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventHub delivers thread events to in-process subscribers such as open
// HTTP streams. Publishing never blocks: a subscriber whose buffer is full
// misses the event.
type EventHub struct {
	mu        sync.RWMutex
	subs      map[string]map[chan model.ThreadEvent]struct{}
	listeners []func(model.ThreadEvent)
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan model.ThreadEvent]struct{})}
}

// Publish hands event to every subscriber of its thread.
func (h *EventHub) Publish(_ context.Context, event *model.ThreadEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.listeners {
		fn(*event)
	}
	for ch := range h.subs[event.ThreadID] {
		select {
		case ch <- *event:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	return nil
}

// OnEvent registers fn to run synchronously for every event on every
// thread. fn must not block or publish.
func (h *EventHub) OnEvent(fn func(model.ThreadEvent)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Subscribe returns a channel of the thread's future events and a function
// that cancels the subscription and closes the channel.
func (h *EventHub) Subscribe(threadID string, buffer int) (<-chan model.ThreadEvent, func()) {
	ch := make(chan model.ThreadEvent, buffer)

	h.mu.Lock()
	if h.subs[threadID] == nil {
		h.subs[threadID] = make(map[chan model.ThreadEvent]struct{})
	}
	h.subs[threadID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[threadID], ch)
			if len(h.subs[threadID]) == 0 {
				delete(h.subs, threadID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of open subscriptions on a thread.
func (h *EventHub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[threadID])
}
