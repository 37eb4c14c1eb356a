// Package scheduler admits created sessions up to the configured concurrency
// ceiling and drives each admitted session to completion: lease, browser,
// jobs in order, then the mandatory stop+release on every exit path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/pool"
	"github.com/headfull/chrome-api/internal/store"
	"github.com/headfull/chrome-api/pkg/models"
)

const pendingQueueSize = 1024

var (
	// ErrNotAccepting is returned by Submit once the scheduler is stopping.
	ErrNotAccepting = errors.New("scheduler is not accepting sessions")
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("pending session queue is full")
)

// BrowserHandle is one live browser a worker drives for its session.
type BrowserHandle interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
	Crashed() bool
	Close()
}

// StartBrowserFunc launches a browser bound to the lease. The real
// implementation is browser.Controller.Start.
type StartBrowserFunc func(ctx context.Context, lease *pool.Lease, cfg models.SessionConfig) (BrowserHandle, error)

type pendingSession struct {
	session models.Session
	jobs    []models.Job
}

// Scheduler runs one worker per admitted session, bounded by
// MaxConcurrentSessions. Admission is FIFO by submission order.
type Scheduler struct {
	cfg          *config.Config
	leaser       *pool.Leaser
	jobs         *store.JobStore
	sessions     *store.SessionStore
	startBrowser StartBrowserFunc

	pending chan pendingSession
	sem     *semaphore.Weighted

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	sessionCtx     context.Context
	sessionCancel  context.CancelFunc

	accepting  atomic.Bool
	active     atomic.Int64
	dispatchWG sync.WaitGroup
	workerWG   sync.WaitGroup
}

// New creates a scheduler. Call Start before submitting.
func New(cfg *config.Config, leaser *pool.Leaser, jobs *store.JobStore, sessions *store.SessionStore, start StartBrowserFunc) *Scheduler {
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:            cfg,
		leaser:         leaser,
		jobs:           jobs,
		sessions:       sessions,
		startBrowser:   start,
		pending:        make(chan pendingSession, pendingQueueSize),
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions)),
		dispatchCtx:    dispatchCtx,
		dispatchCancel: dispatchCancel,
		sessionCtx:     sessionCtx,
		sessionCancel:  sessionCancel,
	}
}

// Start launches the admission dispatcher.
func (s *Scheduler) Start() {
	s.accepting.Store(true)
	s.dispatchWG.Add(1)
	go s.dispatch()
	logrus.WithField("max_concurrent", s.cfg.MaxConcurrentSessions).Info("scheduler started")
}

// Stop drains the scheduler: no new admissions, then wait for active workers
// until ctx expires, at which point remaining sessions are cancelled (their
// workers still run the stop+release sequence before exiting).
func (s *Scheduler) Stop(ctx context.Context) {
	s.accepting.Store(false)
	s.dispatchCancel()
	s.dispatchWG.Wait()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logrus.Warn("forcing cancellation of active sessions")
		s.sessionCancel()
		<-done
	}
	s.sessionCancel()
	logrus.Info("scheduler stopped")
}

// Accepting reports whether new sessions are being admitted.
func (s *Scheduler) Accepting() bool {
	return s.accepting.Load()
}

// Pending is the number of sessions waiting for admission.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// Active is the number of sessions currently running.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Submit queues a created session for admission. Jobs must be in submission
// order; the scheduler worker becomes their sole writer.
func (s *Scheduler) Submit(sess models.Session, jobs []models.Job) error {
	if !s.accepting.Load() {
		return ErrNotAccepting
	}
	select {
	case s.pending <- pendingSession{session: sess, jobs: jobs}:
		logrus.WithFields(logrus.Fields{"session": sess.ID, "jobs": len(jobs), "pending": len(s.pending)}).
			Debug("session queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// dispatch admits pending sessions FIFO, holding one semaphore unit per
// running worker.
func (s *Scheduler) dispatch() {
	defer s.dispatchWG.Done()
	for {
		select {
		case <-s.dispatchCtx.Done():
			return
		case entry := <-s.pending:
			if err := s.sem.Acquire(s.dispatchCtx, 1); err != nil {
				return
			}
			s.workerWG.Add(1)
			s.active.Add(1)
			go func(e pendingSession) {
				defer s.workerWG.Done()
				defer s.active.Add(-1)
				defer s.sem.Release(1)
				s.runSession(e)
			}(entry)
		}
	}
}

// runSession is the per-session worker loop. Whatever path it exits through,
// the browser is stopped and the lease returned to the pool before the
// session record turns terminal; the deferred cleanup is a backstop for
// panics and runs at most once.
func (s *Scheduler) runSession(entry pendingSession) {
	sess := entry.session
	jobs := entry.jobs
	log := logrus.WithField("session", sess.ID)

	admCtx, admCancel := context.WithTimeout(s.sessionCtx, s.cfg.AdmissionTimeout)
	lease, err := s.leaser.Acquire(admCtx, sess.ID)
	admCancel()
	if err != nil {
		log.WithError(err).Warn("lease acquisition failed")
		s.failSession(&sess, jobs, fmt.Sprintf("resource exhausted: no lease available within %s", s.cfg.AdmissionTimeout))
		return
	}

	// Stop before release, exactly once per successful start.
	var handle BrowserHandle
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			if handle != nil {
				handle.Close()
			}
			s.leaser.Release(lease)
		})
	}
	defer cleanup()

	now := time.Now().UTC()
	sess.Status = models.SessionRunning
	sess.StartedAt = &now
	s.sessions.Put(sess)
	log.WithFields(logrus.Fields{"display": lease.DisplayID, "port": lease.Port, "jobs": len(jobs)}).
		Info("session admitted")

	runCtx := s.sessionCtx
	cancel := context.CancelFunc(func() {})
	if sess.Config.SessionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(s.sessionCtx, sess.Config.SessionTimeout)
	}
	defer cancel()

	handle, err = s.startBrowser(runCtx, lease, sess.Config)
	if err != nil {
		log.WithError(err).Error("browser launch failed")
		cleanup()
		s.failSession(&sess, jobs, fmt.Sprintf("launch failure: %v", err))
		return
	}

	for i := range jobs {
		if runCtx.Err() != nil {
			break
		}
		s.runJob(runCtx, &sess, handle, &jobs[i])

		if i < len(jobs)-1 && sess.Config.DelayBetweenRequests > 0 {
			select {
			case <-time.After(sess.Config.DelayBetweenRequests):
			case <-runCtx.Done():
			}
		}
	}

	cleanup()

	if runCtx.Err() != nil {
		s.failSession(&sess, jobs, s.interruptReason(runCtx, sess.Config))
		return
	}

	s.completeSession(&sess)
	log.Info("session completed")
}

// runJob executes a single job. Job-level failures are recorded as data on
// the job; only the session context decides whether the loop continues.
func (s *Scheduler) runJob(runCtx context.Context, sess *models.Session, handle BrowserHandle, job *models.Job) {
	job.MarkStarted()
	s.jobs.Put(*job)

	content, err := handle.Fetch(runCtx, job.URL, sess.Config.Timeout)
	if err != nil {
		if runCtx.Err() != nil {
			// Interrupted mid-flight; the session-level reason wins.
			job.MarkFailed(s.interruptReason(runCtx, sess.Config))
		} else {
			job.MarkFailed(err.Error())
		}
		logrus.WithFields(logrus.Fields{"session": sess.ID, "job": job.ID, "url": job.URL}).
			WithError(err).Warn("job failed")
	} else {
		job.MarkCompleted(content)
	}
	s.jobs.Put(*job)
}

// interruptReason distinguishes a fired session timeout from a shutdown
// cancellation.
func (s *Scheduler) interruptReason(runCtx context.Context, cfg models.SessionConfig) string {
	if cfg.SessionTimeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("session timeout: exceeded %s", cfg.SessionTimeout)
	}
	return "session cancelled: scheduler shutting down"
}

// failSession marks every non-terminal job and the session itself failed.
func (s *Scheduler) failSession(sess *models.Session, jobs []models.Job, reason string) {
	for i := range jobs {
		if !jobs[i].Status.Terminal() {
			jobs[i].MarkFailed(reason)
			s.jobs.Put(jobs[i])
		}
	}
	now := time.Now().UTC()
	sess.Status = models.SessionFailed
	sess.Error = reason
	sess.CompletedAt = &now
	s.sessions.Put(*sess)
}

// completeSession marks the session completed; individual job failures do
// not matter here, only that every job reached a terminal state.
func (s *Scheduler) completeSession(sess *models.Session) {
	now := time.Now().UTC()
	sess.Status = models.SessionCompleted
	sess.CompletedAt = &now
	s.sessions.Put(*sess)
}
