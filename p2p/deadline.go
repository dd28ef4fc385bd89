// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"sync"
	"time"
)

// deadline is a one-shot timer that invokes a handler after a duration unless
// it is stopped first.  It is never reused.
type deadline struct {
	duration time.Duration

	mtx     sync.Mutex
	timer   *time.Timer
	fired   bool
	stopped bool

	// done is closed once a fired handler has returned.
	done chan struct{}
}

// newDeadline returns a deadline that fires after the provided duration once
// started.
func newDeadline(duration time.Duration) *deadline {
	return &deadline{
		duration: duration,
		done:     make(chan struct{}),
	}
}

// start arms the deadline.  The handler runs on its own goroutine when the
// deadline expires before stop is called.
func (d *deadline) start(handler func()) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.duration, func() {
		d.mtx.Lock()
		if d.stopped {
			d.mtx.Unlock()
			return
		}
		d.fired = true
		d.mtx.Unlock()

		handler()
		close(d.done)
	})
}

// stop cancels the deadline.  It returns true when the handler was prevented
// from running.  When the handler already fired, stop blocks until it has
// returned so the caller observes all of its effects.
func (d *deadline) stop() bool {
	d.mtx.Lock()
	if d.stopped {
		fired := d.fired
		d.mtx.Unlock()
		if fired {
			<-d.done
		}
		return !fired
	}
	d.stopped = true
	fired := d.fired
	timer := d.timer
	d.mtx.Unlock()

	if fired {
		<-d.done
		return false
	}
	if timer != nil {
		timer.Stop()
	}
	return true
}
