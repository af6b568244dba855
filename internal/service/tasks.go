package service

import (
	"sync"
	"time"

	"github.com/fleetflow/broker-comms/internal/clock"
)

// taskSet tracks delayed callbacks by key so they can be cancelled. A key has
// at most one pending callback; scheduling again replaces it.
type taskSet struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]*task
	closed  bool
	running sync.WaitGroup
}

type task struct {
	timer clock.Timer
}

func newTaskSet(clk clock.Clock) *taskSet {
	return &taskSet{
		clock: clk,
		tasks: make(map[string]*task),
	}
}

// schedule runs f after d under key. It reports false once the set is closed.
func (s *taskSet) schedule(key string, d time.Duration, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	t := &task{}
	s.tasks[key] = t
	t.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.closed || s.tasks[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		f()
	})
	return true
}

// cancel stops the pending callback for key, if any.
func (s *taskSet) cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	return t.timer.Stop()
}

// pending returns the number of callbacks not yet started.
func (s *taskSet) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// close cancels every pending callback, refuses new ones, and waits for
// callbacks already running to return.
func (s *taskSet) close() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	s.running.Wait()
}
