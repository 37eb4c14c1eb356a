// Package session is the public entry point of the core: it validates
// incoming batches, builds session and job records, and hands them to the
// scheduler. Creation is synchronous; execution is asynchronous and observed
// by polling the stores.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/scheduler"
	"github.com/headfull/chrome-api/internal/store"
	"github.com/headfull/chrome-api/pkg/models"
)

// ErrNotFound is returned for unknown session or job ids.
var ErrNotFound = errors.New("not found")

// ValidationError reports a rejected create request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Manager validates requests, constructs records, and answers status queries.
// It never mutates a record after submission; the scheduler worker owns it
// from then on.
type Manager struct {
	cfg      *config.Config
	sched    *scheduler.Scheduler
	jobs     *store.JobStore
	sessions *store.SessionStore
}

// NewManager wires the manager to its collaborators.
func NewManager(cfg *config.Config, sched *scheduler.Scheduler, jobs *store.JobStore, sessions *store.SessionStore) *Manager {
	return &Manager{cfg: cfg, sched: sched, jobs: jobs, sessions: sessions}
}

// CreateSessions validates each request, creates one session per request
// with one queued job per page, submits them for admission, and returns the
// created records. The whole batch is validated before anything is created,
// so a bad request never leaves half a batch behind.
func (m *Manager) CreateSessions(requests []models.ContentRequest) ([]models.ContentResponse, error) {
	if len(requests) == 0 {
		return nil, &ValidationError{Reason: "request list is empty"}
	}
	for i, req := range requests {
		if err := m.validate(req); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("request %d: %v", i, err)}
		}
	}

	responses := make([]models.ContentResponse, 0, len(requests))
	for _, req := range requests {
		sess, jobs := m.build(req)

		m.sessions.Put(sess)
		for _, job := range jobs {
			m.jobs.Put(job)
		}

		if err := m.sched.Submit(sess, jobs); err != nil {
			// Could not queue: the records exist but will never run.
			now := time.Now().UTC()
			sess.Status = models.SessionFailed
			sess.Error = err.Error()
			sess.CompletedAt = &now
			m.sessions.Put(sess)
			for _, job := range jobs {
				job.MarkFailed(err.Error())
				m.jobs.Put(job)
			}
			return nil, fmt.Errorf("submit session: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"session": sess.ID,
			"pages":   len(sess.Pages),
			"proxy":   sess.Config.ProxyServer,
		}).Info("session created")

		responses = append(responses, models.ContentResponse{
			ID:     sess.ID,
			Status: sess.Status,
			Pages:  sess.Pages,
		})
	}
	return responses, nil
}

func (m *Manager) validate(req models.ContentRequest) error {
	if len(req.Pages) == 0 {
		return errors.New("pages must not be empty")
	}
	for _, page := range req.Pages {
		u, err := url.Parse(page)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid page url %q", page)
		}
	}
	if req.Config.DelayBetweenRequests < 0 {
		return errors.New("delay_between_requests must be >= 0")
	}
	if req.Config.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	if req.Config.SessionTimeout < 0 {
		return errors.New("session_timeout must be >= 0")
	}
	if req.Config.ProxyServer != "" {
		if _, err := url.Parse(req.Config.ProxyServer); err != nil {
			return fmt.Errorf("invalid proxy_server: %v", err)
		}
	}
	return nil
}

func (m *Manager) build(req models.ContentRequest) (models.Session, []models.Job) {
	sessionID := uuid.New().String()
	now := time.Now().UTC()

	jobs := make([]models.Job, 0, len(req.Pages))
	pages := make([]models.PageRef, 0, len(req.Pages))
	for _, page := range req.Pages {
		job := models.Job{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			URL:       page,
			Status:    models.JobQueued,
			QueuedAt:  now,
		}
		jobs = append(jobs, job)
		pages = append(pages, models.PageRef{URL: page, JobID: job.ID})
	}

	sess := models.Session{
		ID:        sessionID,
		Status:    models.SessionCreated,
		Config:    m.sessionConfig(req.Config),
		Pages:     pages,
		CreatedAt: now,
	}
	return sess, jobs
}

// sessionConfig converts the wire config (seconds) into durations, applying
// the configured defaults.
func (m *Manager) sessionConfig(rc models.ContentRequestConfig) models.SessionConfig {
	sc := models.SessionConfig{
		DelayBetweenRequests: time.Duration(rc.DelayBetweenRequests) * time.Second,
		ProxyServer:          rc.ProxyServer,
		Timeout:              time.Duration(rc.Timeout) * time.Second,
		SessionTimeout:       time.Duration(rc.SessionTimeout) * time.Second,
	}
	if rc.DelayBetweenRequests == 0 {
		sc.DelayBetweenRequests = m.cfg.DefaultDelay
	}
	if sc.Timeout == 0 {
		sc.Timeout = m.cfg.JobTimeout
	}
	if sc.SessionTimeout == 0 {
		sc.SessionTimeout = m.cfg.SessionTimeout
	}
	return sc
}

// GetJob returns the job record, or ErrNotFound.
func (m *Manager) GetJob(id string) (models.Job, error) {
	job, ok := m.jobs.Get(id)
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// GetSession returns the session record, or ErrNotFound.
func (m *Manager) GetSession(id string) (models.Session, error) {
	sess, ok := m.sessions.Get(id)
	if !ok {
		return models.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, nil
}

// Healthy reports whether the core is initialized and accepting admissions.
func (m *Manager) Healthy() bool {
	return m.sched.Accepting()
}
