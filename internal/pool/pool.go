package pool

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool hands out exclusive integer identifiers from a contiguous range.
// Acquire blocks while the pool is exhausted; waiters are served in FIFO
// order. Release is idempotent so cleanup paths can call it unconditionally.
type Pool struct {
	name string

	mu    sync.Mutex
	inUse map[int]string // identifier -> holder
	free  chan int
}

// New creates a pool over [start, start+count).
func New(name string, start, count int) *Pool {
	p := &Pool{
		name:  name,
		inUse: make(map[int]string, count),
		free:  make(chan int, count),
	}
	for i := 0; i < count; i++ {
		p.free <- start + i
	}
	logrus.WithFields(logrus.Fields{
		"pool":  name,
		"start": start,
		"count": count,
	}).Info("resource pool initialized")
	return p
}

// Acquire removes one free identifier and records holder against it. It
// blocks until an identifier is free or ctx is done. Two concurrent callers
// can never receive the same identifier.
func (p *Pool) Acquire(ctx context.Context, holder string) (int, error) {
	select {
	case id := <-p.free:
		p.mu.Lock()
		p.inUse[id] = holder
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{"pool": p.name, "id": id, "holder": holder}).
			Debug("resource acquired")
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Release returns an identifier to the free set. Releasing an identifier
// that is not currently held is a no-op.
func (p *Pool) Release(id int) {
	p.mu.Lock()
	if _, held := p.inUse[id]; !held {
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{"pool": p.name, "id": id}).
			Warn("release of unheld resource ignored")
		return
	}
	delete(p.inUse, id)
	p.mu.Unlock()

	p.free <- id
	logrus.WithFields(logrus.Fields{"pool": p.name, "id": id}).Debug("resource released")
}

// Available is the number of identifiers currently free.
func (p *Pool) Available() int {
	return len(p.free)
}

// InUse is the number of identifiers currently held.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
