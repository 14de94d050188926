package watch

// This file implements a timer and a trigger channel combined into a single
// downstream channel, used when an action should happen on a regular
// schedule while also letting a caller, typically a test or an operator
// action, invoke it on demand.

import (
	"sync"
	"time"

	"github.com/lthibault/jitterbug"
)

// Trigger encapsulates a jittered timer and a manual activation channel
// which together feed a single downstream go channel.  The jitter prevents
// watchers that share a provisioning server from synchronizing their
// sampling.
//
type Trigger struct {
	C chan time.Time

	kickC <-chan struct{}
	tick  *jitterbug.Ticker
	stopC chan struct{}
	stop  sync.Once
}

// NewTrigger accepts a manual activation channel along with the interval
// and jitter for the timer and returns the encapsulating t data structure.
// A nil activation channel leaves the timer as the only source.
//
func NewTrigger(kickC <-chan struct{}, d time.Duration, j jitterbug.Jitter) (t *Trigger) {
	t = &Trigger{
		C:     make(chan time.Time, 1),
		kickC: kickC,
		tick:  jitterbug.New(d, j),
		stopC: make(chan struct{}),
	}
	go t.loop()
	return t
}

// Stop terminates the go routine servicing the timer and the activation
// channel.  Stop may be called any number of times.
//
func (t *Trigger) Stop() {
	t.stop.Do(func() { close(t.stopC) })
}

// loop services the timer and the manual activation channel, firing the
// downstream channel for either, until stopped
//
func (t *Trigger) loop() {
	defer func() {
		t.tick.Stop()
		close(t.C)
	}()

	for {
		select {
		case <-t.stopC:
			return
		case <-t.tick.C:
			t.signal()
		case <-t.kickC:
			t.signal()
		}
	}
}

// signal fires the downstream channel, giving up after a short patience
// interval when no one is listening so that the loop never wedges
//
func (t *Trigger) signal() {
	select {
	case t.C <- time.Now():
	case <-time.After(200 * time.Millisecond):
	}
}
