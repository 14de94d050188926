// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains the implementation of a channel fan-out based on
// subscriptions for the classification policy.  Components that classify
// long running streams of jobs subscribe once and receive the current
// policy immediately, then fresh copies as the updaters publish them.

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/jjeffery/kv" // MIT License
)

// Listeners is used to handle the broadcasting of policy changes to
// subscribed components
type Listeners struct {
	SendingC  chan *Policy
	listeners map[xid.ID]chan<- *Policy
	current   *Policy
	sync.Mutex
}

// NewPolicyBroadcast is used to instantiate a policy update broadcaster
// that begins with the supplied policy as its authoritative value
func NewPolicyBroadcast(ctx context.Context, policy *Policy, errorC chan<- kv.Error) (l *Listeners) {
	l = &Listeners{
		SendingC:  make(chan *Policy, 1),
		listeners: map[xid.ID]chan<- *Policy{},
		current:   policy.Copy(),
	}

	go l.run(ctx, errorC)

	return l
}

// Current returns a copy of the policy most recently published
func (l *Listeners) Current() (policy *Policy) {
	l.Lock()
	defer l.Unlock()
	return l.current.Copy()
}

func (l *Listeners) run(ctx context.Context, errorC chan<- kv.Error) {
	for {
		select {
		case <-ctx.Done():
			return
		case policy := <-l.SendingC:
			if policy == nil {
				continue
			}

			l.Lock()
			l.current = policy.Copy()
			clients := make([]chan<- *Policy, 0, len(l.listeners))
			for _, v := range l.listeners {
				clients = append(clients, v)
			}
			l.Unlock()

			for _, c := range clients {
				func() {
					defer func() {
						// A listener can be deleted between the collection copy
						// above and this send which would close the channel
						recover()
					}()
					select {
					case c <- policy.Copy():
					case <-time.After(500 * time.Millisecond):
					}
				}()
			}
		}
	}
}

// Add is used when a running thread wishes to add a channel to the broadcaster
// on which policy change events will be received
func (l *Listeners) Add(listen chan<- *Policy) (id xid.ID, err kv.Error) {

	id = xid.New()

	l.Lock()
	l.listeners[id] = listen
	initial := l.current.Copy()
	l.Unlock()

	// Send an initial authoritive copy of the policy down the channel
	go func() {
		listen <- initial
	}()

	return id, nil
}

// Delete is used when a running thread wishes to drop a channel from the
// broadcaster on which policy events will be received
func (l *Listeners) Delete(id xid.ID) {

	l.Lock()
	delete(l.listeners, id)
	l.Unlock()
}
