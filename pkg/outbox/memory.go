package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps outbox rows in process. Repositories that keep their
// own state in memory append to it while holding their own lock.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*memoryRow
	now    func() time.Time
}

type memoryRow struct {
	event      Event
	leaseUntil time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*memoryRow), now: time.Now}
}

func (s *MemoryStore) Append(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.nextID++
		e.ID = s.nextID
		e.Status = StatusPending
		s.rows[e.ID] = &memoryRow{event: e}
	}
}

func (s *MemoryStore) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]int64, 0, len(s.rows))
	for id, row := range s.rows {
		switch row.event.Status {
		case StatusPending:
			ids = append(ids, id)
		case StatusInProgress:
			if now.After(row.leaseUntil) {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > batchSize {
		ids = ids[:batchSize]
	}

	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		row := s.rows[id]
		row.event.Status = StatusInProgress
		row.event.RelayID = relayID
		row.leaseUntil = now.Add(lease)
		out = append(out, row.event)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			row.event.Status = StatusSent
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.event.Status = StatusPending
		row.event.RetryCount++
		row.event.LastError = &errMsg
	}
	return nil
}

// Pending returns the unsent events in insertion order.
func (s *MemoryStore) Pending() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, row := range s.rows {
		if row.event.Status != StatusSent {
			out = append(out, row.event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
