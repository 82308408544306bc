package apibuilder

import "sync"

// DefaultRequestQueueLimit is the number of non-forced requests a scope
// lets run at the same time when no limit is configured.
const DefaultRequestQueueLimit = 5

// Scope is a scheduling scope: one ordered queue and one in-flight counter.
// Every builder owns a private Scope unless one is shared with WithScope, in
// which case all builders on it compete for the same concurrency budget.
//
// Scope is safe for concurrent use.
type Scope struct {
	limit int

	mu      sync.Mutex
	queue   []*entry
	pending int
}

// NewScope returns a Scope that admits at most limit non-forced requests
// at a time. A limit below 1 selects DefaultRequestQueueLimit.
func NewScope(limit int) *Scope {
	if limit < 1 {
		limit = DefaultRequestQueueLimit
	}
	return &Scope{limit: limit}
}

// Limit returns the concurrency limit for non-forced requests.
func (s *Scope) Limit() int { return s.limit }

// Len returns the number of queued requests.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Pending returns the number of requests in flight.
func (s *Scope) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scope) push(e *entry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
}

// admit selects the next entry to dispatch and counts it as pending in the
// same critical section. Forced entries are taken from any position and
// ignore the limit; otherwise the head is taken while capacity remains.
func (s *Scope) admit() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.queue {
		if e.req.Forced {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.pending++
			return e
		}
	}
	if s.pending >= s.limit || len(s.queue) == 0 {
		return nil
	}
	e := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.pending++
	return e
}

// release marks one dispatched entry as finished.
func (s *Scope) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

// drain dispatches every entry the admission rules currently allow.
func (s *Scope) drain() {
	for {
		e := s.admit()
		if e == nil {
			return
		}
		go e.owner.dispatch(e)
	}
}

// remove takes every queued entry owned by b out of the queue.
func (s *Scope) remove(b *Builder) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*entry
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.owner == b {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	return removed
}
