// Package queue provides FIFO queue operations over the state store.
package queue

import (
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Scheduler performs queue operations for a tenant.
type Scheduler struct {
	store *state.Store
}

// NewScheduler creates a scheduler backed by store.
func NewScheduler(store *state.Store) *Scheduler {
	return &Scheduler{store: store}
}

// EnqueueSingle appends ref and returns its 1-indexed position.
// Returns state.ErrCapacity when the queue is full.
func (s *Scheduler) EnqueueSingle(id tenant.ID, ref track.Ref) (int, error) {
	return s.store.Enqueue(id, ref)
}

// EnqueueMany appends refs in order, stopping at the first capacity error.
// Refs already appended stay. Returns how many were appended.
func (s *Scheduler) EnqueueMany(id tenant.ID, refs []track.Ref) int {
	added := 0
	s.store.Mutate(id, func(t *state.Tenant) {
		for _, ref := range refs {
			if t.QueueFull() {
				return
			}
			t.Queue = append(t.Queue, ref)
			added++
		}
	})
	return added
}

// InsertFrontMany puts refs at the head of the queue, keeping their order.
// Only as many refs as fit under the queue capacity are inserted, taken
// from the start of refs. Returns how many were inserted.
func (s *Scheduler) InsertFrontMany(id tenant.ID, refs []track.Ref) int {
	inserted := 0
	s.store.Mutate(id, func(t *state.Tenant) {
		room := t.Limits().MaxQueueSize - len(t.Queue)
		if room <= 0 || len(refs) == 0 {
			return
		}
		if len(refs) > room {
			refs = refs[:room]
		}
		q := make([]track.Ref, 0, len(refs)+len(t.Queue))
		q = append(q, refs...)
		q = append(q, t.Queue...)
		t.Queue = q
		inserted = len(refs)
	})
	return inserted
}

// PopNext removes and returns the head of the queue.
func (s *Scheduler) PopNext(id tenant.ID) (track.Ref, bool) {
	var (
		ref track.Ref
		ok  bool
	)
	s.store.Mutate(id, func(t *state.Tenant) {
		if len(t.Queue) == 0 {
			return
		}
		ref, ok = t.Queue[0], true
		t.Queue = t.Queue[1:]
	})
	return ref, ok
}

// Peek returns the head of the queue without removing it.
func (s *Scheduler) Peek(id tenant.ID) (track.Ref, bool) {
	var (
		ref track.Ref
		ok  bool
	)
	s.store.Mutate(id, func(t *state.Tenant) {
		if len(t.Queue) > 0 {
			ref, ok = t.Queue[0], true
		}
	})
	return ref, ok
}

// Clear empties the queue and returns how many refs were removed.
func (s *Scheduler) Clear(id tenant.ID) int {
	removed := 0
	s.store.Mutate(id, func(t *state.Tenant) {
		removed = len(t.Queue)
		t.Queue = make([]track.Ref, 0)
	})
	return removed
}

// TrimFront removes up to n refs from the head.
func (s *Scheduler) TrimFront(id tenant.ID, n int) int {
	if n <= 0 {
		return 0
	}
	removed := 0
	s.store.Mutate(id, func(t *state.Tenant) {
		if n > len(t.Queue) {
			n = len(t.Queue)
		}
		t.Queue = append(make([]track.Ref, 0, len(t.Queue)-n), t.Queue[n:]...)
		removed = n
	})
	return removed
}

// List returns up to limit refs from the head and the total queue length.
// limit <= 0 returns the whole queue.
func (s *Scheduler) List(id tenant.ID, limit int) ([]track.Ref, int) {
	q := s.store.Queue(id)
	total := len(q)
	if limit > 0 && len(q) > limit {
		q = q[:limit]
	}
	return q, total
}

// Len returns the queue length.
func (s *Scheduler) Len(id tenant.ID) int {
	n := 0
	s.store.Mutate(id, func(t *state.Tenant) { n = len(t.Queue) })
	return n
}
