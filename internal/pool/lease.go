package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Lease is an exclusive claim on one display identifier and one DevTools
// port, held by exactly one session for its running lifetime.
type Lease struct {
	DisplayID  int
	Port       int
	SessionID  string
	AcquiredAt time.Time

	release sync.Once
}

// Leaser acquires and releases combined display+port leases over two
// independent pools.
type Leaser struct {
	displays *Pool
	ports    *Pool
}

// NewLeaser pairs a display pool with a port pool.
func NewLeaser(displays, ports *Pool) *Leaser {
	return &Leaser{displays: displays, ports: ports}
}

// Acquire claims one display and one port for the given session, blocking
// until both are free or ctx is done. If the port cannot be claimed the
// display is returned to its pool before the error is reported.
func (l *Leaser) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	display, err := l.displays.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	port, err := l.ports.Acquire(ctx, sessionID)
	if err != nil {
		l.displays.Release(display)
		return nil, err
	}

	lease := &Lease{
		DisplayID:  display,
		Port:       port,
		SessionID:  sessionID,
		AcquiredAt: time.Now().UTC(),
	}
	logrus.WithFields(logrus.Fields{
		"session": sessionID,
		"display": display,
		"port":    port,
	}).Info("lease acquired")
	return lease, nil
}

// Release returns both identifiers to their pools. Safe to call any number
// of times and on every exit path; only the first call has effect, so a
// stale double release can never free identifiers reallocated to another
// session.
func (l *Leaser) Release(lease *Lease) {
	if lease == nil {
		return
	}
	lease.release.Do(func() {
		l.ports.Release(lease.Port)
		l.displays.Release(lease.DisplayID)
		logrus.WithFields(logrus.Fields{
			"session": lease.SessionID,
			"display": lease.DisplayID,
			"port":    lease.Port,
		}).Info("lease released")
	})
}
