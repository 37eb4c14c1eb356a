// Package store keeps session and job records in memory. Records are stored
// and returned by value so readers never observe a half-written update; after
// creation only the scheduler worker that owns a session writes its records.
package store

import (
	"sync"

	"github.com/headfull/chrome-api/pkg/models"
)

// JobStore is an in-memory store of jobs keyed by id.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]models.Job)}
}

// Put inserts or replaces a job record.
func (s *JobStore) Put(job models.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

// Get returns a copy of the job, if known.
func (s *JobStore) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Count is the total number of jobs.
func (s *JobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// SessionStore is an in-memory store of sessions keyed by id.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]models.Session)}
}

// Put inserts or replaces a session record.
func (s *SessionStore) Put(sess models.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// Get returns a copy of the session, if known.
func (s *SessionStore) Get(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Count is the total number of sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
