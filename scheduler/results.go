package scheduler

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Result is the terminal outcome of a job as seen by the scheduler.
type Result struct {
	JobID       uuid.UUID
	Success     bool
	Cancelled   bool
	TxHash      common.Hash
	Err         string
	Attempts    int
	CompletedAt time.Time
}

// resultSet is a bounded map of job results with FIFO eviction: when the
// cap is reached the oldest entry goes first. An aging sweep can also
// clear entries past a retention bound.
type resultSet struct {
	mu      sync.Mutex
	max     int
	results map[uuid.UUID]*Result
	order   []uuid.UUID // insertion order, oldest first
}

func newResultSet(max int) *resultSet {
	return &resultSet{
		max:     max,
		results: make(map[uuid.UUID]*Result),
	}
}

// Add inserts a result, evicting the oldest entry when full. Re-adding an
// existing job id keeps the first result.
func (s *resultSet) Add(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[r.JobID]; exists {
		return
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
	}
	s.results[r.JobID] = r
	s.order = append(s.order, r.JobID)
}

func (s *resultSet) Get(id uuid.UUID) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

func (s *resultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// ClearOlderThan evicts entries completed before the retention bound and
// returns how many were removed.
func (s *resultSet) ClearOlderThan(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if r := s.results[id]; r != nil && r.CompletedAt.Before(cutoff) {
			delete(s.results, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}
