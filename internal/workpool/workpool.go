// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package workpool provides the worker pool that executes asynchronous
// completions for the peer to peer service.
//
// Completions are short non-blocking functions queued with [Pool.Dispatch]
// and run by a fixed number of workers.  Blocking operations such as dials,
// name resolution and accept loops must not occupy a worker, so they are run
// on goroutines that are tracked by the pool through [Pool.Go].  This allows
// [Pool.Join] to wait for every piece of outstanding work regardless of where
// it runs.
package workpool

import (
	"sync"

	"github.com/decred/slog"
)

// log is a logger that is initialized with no output filters.  This means the
// package will not perform any logging by default until the caller requests
// it.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Pool is a worker pool with a shared FIFO queue.  The zero value is not
// usable; create instances with New.
type Pool struct {
	name string

	mtx      sync.Mutex
	cond     *sync.Cond
	queue    []func()
	workers  int
	shutdown bool

	// wg tracks both the workers and the goroutines launched via Go.
	wg sync.WaitGroup
}

// New returns a pool with no workers.  Work dispatched before Spawn is called
// runs on tracked goroutines.
func New(name string) *Pool {
	p := &Pool{name: name}
	p.cond = sync.NewCond(&p.mtx)
	return p
}

// Spawn launches n workers that service the queue.  It also clears a prior
// shutdown so a pool may be reused after Join.
func (p *Pool) Spawn(n int) {
	if n < 1 {
		n = 1
	}

	p.mtx.Lock()
	p.shutdown = false
	p.workers += n
	p.wg.Add(n)
	p.mtx.Unlock()

	for i := 0; i < n; i++ {
		go p.worker()
	}
	log.Debugf("%s: spawned %d workers", p.name, n)
}

// worker runs queued functions until the pool is shut down and the queue has
// drained.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mtx.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.workers--
			p.mtx.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mtx.Unlock()

		fn()
	}
}

// Dispatch queues fn to run on a worker.  The function is never run in the
// calling goroutine.  When no workers are live, which is the case after
// Shutdown, fn runs on a tracked goroutine instead so that completions owed
// to callers are always delivered.
func (p *Pool) Dispatch(fn func()) {
	p.mtx.Lock()
	if p.workers == 0 || p.shutdown {
		p.mtx.Unlock()
		p.Go(fn)
		return
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
	p.mtx.Unlock()
}

// Go runs fn on a new goroutine that Join waits for.  It is intended for
// operations that block.
func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Shutdown signals the workers to exit once the queue has drained.  It does
// not wait for them.  It is safe to call multiple times.
func (p *Pool) Shutdown() {
	p.mtx.Lock()
	if !p.shutdown {
		p.shutdown = true
		p.cond.Broadcast()
		log.Debugf("%s: shutting down", p.name)
	}
	p.mtx.Unlock()
}

// Stopped returns whether the pool has been shut down.
func (p *Pool) Stopped() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.shutdown
}

// Join blocks until all workers have exited and all tracked goroutines have
// returned.  Shutdown must be called first for Join to return while workers
// are live.
func (p *Pool) Join() {
	p.wg.Wait()
}
