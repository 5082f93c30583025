package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-sync/internal/jobs"
)

// Store is an in-memory jobs.Store, safe for concurrent use. It lives for
// one process; runs are short so nothing needs to survive a restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.FetchJob
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.FetchJob),
	}
}

// SaveJob implements jobs.Store.
func (s *Store) SaveJob(ctx context.Context, job *jobs.FetchJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid external modifications.
	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	return nil
}

// ListJobs implements jobs.Store. Results are ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.FetchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.FetchJob
	for _, job := range s.jobs {
		if filter.RunID != "" && job.RunID != filter.RunID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ jobs.Store = (*Store)(nil)
