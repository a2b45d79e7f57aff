// Package jobstore keeps transform jobs submitted to the service.
package jobstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done reports whether the job reached a final state.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("jobstore: job not found")

// Request is what a client submitted.
type Request struct {
	Title     string            `json:"title,omitempty"`
	Source    string            `json:"source"`
	Variables map[string]string `json:"variables,omitempty"`
	// Assemble asks for the full script, not just the transformed lines.
	Assemble bool `json:"assemble,omitempty"`
	Headless bool `json:"headless,omitempty"`
}

// Result is what a completed job produced.
type Result struct {
	Code     string         `json:"code"`
	Script   string         `json:"script,omitempty"`
	Actions  int            `json:"actions"`
	Kinds    map[string]int `json:"kinds,omitempty"`
	Dropped  int            `json:"dropped"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Job is one transform request and its lifecycle.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Request     Request    `json:"request"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SetStatus moves the job to status and stamps the matching time.
func (j *Job) SetStatus(status Status, now time.Time) {
	j.Status = status
	switch {
	case status == StatusRunning:
		j.StartedAt = &now
	case status.Done():
		j.CompletedAt = &now
	}
}

// Store persists jobs.
type Store interface {
	// Create stores a new pending job for req and returns it.
	Create(ctx context.Context, req Request) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	// List returns jobs newest first, at most limit of them (all when limit <= 0).
	List(ctx context.Context, limit int) ([]*Job, error)
	// CleanupOld deletes finished jobs that completed before cutoff and
	// reports how many went.
	CleanupOld(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

func newJob(req Request, now time.Time) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: now,
	}
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, req Request) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := newJob(req, s.now())
	s.jobs[job.ID] = job
	return clone(job), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(job), nil
}

func (s *MemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, clone(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CleanupOld(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

// clone copies job so callers never share the stored value.
func clone(job *Job) *Job {
	c := *job
	if job.Result != nil {
		r := *job.Result
		c.Result = &r
	}
	return &c
}
