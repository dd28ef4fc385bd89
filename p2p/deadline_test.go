// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestDeadlineStopBeforeFire ensures a deadline stopped before it expires
// never invokes its handler.
func TestDeadlineStopBeforeFire(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	d := newDeadline(time.Hour)
	d.start(func() { fired.Add(1) })
	if !d.stop() {
		t.Fatal("stop did not prevent the handler")
	}
	if !d.stop() {
		t.Fatal("second stop reported a fired handler")
	}
	if n := fired.Load(); n != 0 {
		t.Fatalf("handler invoked %d times", n)
	}
}

// TestDeadlineFire ensures an expired deadline invokes its handler once and
// that stop reports it.
func TestDeadlineFire(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	d := newDeadline(time.Millisecond)
	d.start(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second * 10):
		t.Fatal("deadline did not fire")
	}
	if d.stop() {
		t.Fatal("stop reported preventing a fired handler")
	}
}

// TestDeadlineStopRace ensures that racing stop against expiration always
// leaves the handler invoked at most once, and that stop only returns once a
// fired handler has finished.
func TestDeadlineStopRace(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		d := newDeadline(time.Duration(i%5) * time.Microsecond)
		d.start(func() {
			time.Sleep(time.Microsecond * 50)
			fired.Add(1)
		})
		time.Sleep(time.Duration(i%7) * time.Microsecond)

		prevented := d.stop()
		n := fired.Load()
		switch {
		case prevented && n != 0:
			t.Fatalf("iteration %d: handler ran after stop prevented it", i)
		case !prevented && n != 1:
			t.Fatalf("iteration %d: stop returned before the handler "+
				"finished (fired %d)", i, n)
		}
	}
}
