// Package queue provides the per-user exclusivity slots and the bounded
// worker pool jobs run on. A user holds their slot for the whole life of
// a job; a second request while the slot is held is rejected with ErrBusy
// rather than queued silently.
package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("another job is already active for this user")

// Pool bounds global concurrency with a fixed set of workers draining a
// FIFO channel, and tracks which users currently hold their slot.
type Pool struct {
	mu     sync.Mutex
	active map[int64]struct{}

	jobs chan func()
	wg   sync.WaitGroup
	once sync.Once
}

// New starts a pool with the given number of workers. Submissions beyond
// backlog block until a worker frees up.
func New(workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		active: make(map[int64]struct{}),
		jobs:   make(chan func(), backlog),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.jobs {
		fn()
	}
}

// Acquire claims the exclusivity slot for a user. It fails with ErrBusy
// while the user has an active job.
func (p *Pool) Acquire(userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[userID]; ok {
		return ErrBusy
	}
	p.active[userID] = struct{}{}
	return nil
}

// Release frees a user's slot.
func (p *Pool) Release(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, userID)
}

// Submit hands fn to the pool. Jobs run in arrival order across all
// users; when the backlog is full Submit waits rather than rejecting.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveUsers returns how many users currently hold a slot.
func (p *Pool) ActiveUsers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
