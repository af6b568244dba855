package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
	"github.com/fleetflow/broker-comms/pkg/metrics"
)

// ThreadStore holds communication threads in memory. Threads originate
// outside the core (seed data or persistence); the store only appends to
// them and updates their bookkeeping fields.
type ThreadStore struct {
	persister Persister
	logger    *logger.Logger

	threads map[string]*model.Thread
	mu      sync.RWMutex
}

// NewThreadStore creates an empty thread store.
func NewThreadStore(persister Persister, log *logger.Logger) *ThreadStore {
	return &ThreadStore{
		persister: orNopPersister(persister),
		logger:    orNopLogger(log),
		threads:   make(map[string]*model.Thread),
	}
}

// Add registers a thread, replacing any thread with the same ID.
func (s *ThreadStore) Add(thread *model.Thread) {
	s.mu.Lock()
	s.threads[thread.ID] = thread.Clone()
	n := len(s.threads)
	s.mu.Unlock()

	metrics.ThreadsTracked.Set(float64(n))
}

// Len returns the number of threads held.
func (s *ThreadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Get retrieves a copy of a thread by ID.
func (s *ThreadStore) Get(id string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, exists := s.threads[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", model.ErrThreadNotFound, id)
	}
	return thread.Clone(), nil
}

// List returns a broker's threads matching filter, most recently updated
// first.
func (s *ThreadStore) List(brokerID string, filter model.ThreadFilter) []model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)

	out := []model.Thread{}
	for _, thread := range s.threads {
		if thread.BrokerID != brokerID {
			continue
		}
		if filter.Status != "" && filter.Status != "all" && string(thread.Status) != filter.Status {
			continue
		}
		if filter.Priority != "" && filter.Priority != "all" && string(thread.Priority) != filter.Priority {
			continue
		}
		if search != "" && !matchesSearch(thread, search) {
			continue
		}
		if filter.LoadID != "" && thread.LoadID != filter.LoadID {
			continue
		}
		out = append(out, *thread.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func matchesSearch(thread *model.Thread, search string) bool {
	if strings.Contains(strings.ToLower(thread.ShipperName), search) ||
		strings.Contains(strings.ToLower(thread.Subject), search) {
		return true
	}
	for _, tag := range thread.Tags {
		if strings.Contains(strings.ToLower(tag), search) {
			return true
		}
	}
	return false
}

// ForBroker returns copies of every thread owned by brokerID.
func (s *ThreadStore) ForBroker(brokerID string) []model.Thread {
	return s.List(brokerID, model.ThreadFilter{})
}

// AppendMessage appends the message produced by build to a thread and bumps
// updatedAt. build runs under the store lock and must not call back into the
// store. When markPending is set the thread moves to pending_response.
func (s *ThreadStore) AppendMessage(
	ctx context.Context,
	threadID string,
	now time.Time,
	markPending bool,
	build func(thread *model.Thread) model.Message,
) (*model.Message, error) {
	s.mu.Lock()
	thread, exists := s.threads[threadID]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrThreadNotFound, threadID)
	}

	msg := build(thread)
	msg.ThreadID = thread.ID
	thread.Messages = append(thread.Messages, msg)
	if now.After(thread.UpdatedAt) {
		thread.UpdatedAt = now
	}
	if markPending {
		thread.Status = model.ThreadPendingResponse
	}
	snapshot := thread.Clone()
	s.mu.Unlock()

	s.save(ctx, snapshot)
	return msg.Clone(), nil
}

// AdvanceMessageStatus moves a message's status forward. It reports false
// without error when the transition would regress or leave a terminal state.
func (s *ThreadStore) AdvanceMessageStatus(ctx context.Context, threadID, messageID string, status model.MessageStatus) (bool, error) {
	s.mu.Lock()
	thread, exists := s.threads[threadID]
	if !exists {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", model.ErrThreadNotFound, threadID)
	}

	var msg *model.Message
	for i := range thread.Messages {
		if thread.Messages[i].ID == messageID {
			msg = &thread.Messages[i]
			break
		}
	}
	if msg == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("message %w: %s", model.ErrNotFound, messageID)
	}
	if !msg.Status.CanAdvanceTo(status) {
		s.mu.Unlock()
		return false, nil
	}

	msg.Status = status
	if msg.Metadata == nil {
		msg.Metadata = &model.MessageMetadata{}
	}
	if status == model.StatusRead {
		msg.Metadata.ReadReceipt = true
	}
	snapshot := thread.Clone()
	s.mu.Unlock()

	s.save(ctx, snapshot)
	return true, nil
}

// SetNextFollowUp schedules the thread's next follow-up.
func (s *ThreadStore) SetNextFollowUp(ctx context.Context, threadID string, at time.Time) error {
	s.mu.Lock()
	thread, exists := s.threads[threadID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrThreadNotFound, threadID)
	}
	next := at
	thread.NextFollowUp = &next
	snapshot := thread.Clone()
	s.mu.Unlock()

	s.save(ctx, snapshot)
	return nil
}

// DueForFollowUp returns the IDs of threads with auto follow-up enabled whose
// next follow-up is at or before now, earliest first.
func (s *ThreadStore) DueForFollowUp(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type due struct {
		id string
		at time.Time
	}
	var list []due
	for _, thread := range s.threads {
		if !thread.AutoFollowUp || thread.NextFollowUp == nil {
			continue
		}
		if thread.NextFollowUp.After(now) {
			continue
		}
		list = append(list, due{id: thread.ID, at: *thread.NextFollowUp})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].at.Equal(list[j].at) {
			return list[i].id < list[j].id
		}
		return list[i].at.Before(list[j].at)
	})

	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.id
	}
	return ids
}

func (s *ThreadStore) save(ctx context.Context, thread *model.Thread) {
	if err := s.persister.SaveThread(ctx, thread); err != nil {
		metrics.PersistenceErrors.WithLabelValues("thread").Inc()
		s.logger.Warn("failed to persist thread", zap.String("thread_id", thread.ID), zap.Error(err))
	}
}
