// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pendingCall is a callback awaiting responses.
type pendingCall struct {
	cb      *Callback
	expires time.Time
	got     []*Event // multi-response only
}

// A correlator tracks callbacks for published packets and matches them with
// responses by correlation ID.
//
// Every decision about the outcome of a callback is made by removing it from
// the table while holding the lock. The consumers are called after the lock
// is released, so a response and an expiry racing on the same ID cannot both
// fire.
type correlator struct {
	log *zap.Logger

	μ     sync.Mutex
	calls map[uuid.UUID]*pendingCall
}

func newCorrelator(log *zap.Logger) *correlator {
	return &correlator{log: log, calls: make(map[uuid.UUID]*pendingCall)}
}

// register adds cb as the callback for id, which expires at now + cb.ttl.
func (c *correlator) register(id uuid.UUID, cb *Callback, now time.Time) error {
	if id == uuid.Nil {
		return errors.New("register callback: nil ID")
	} else if cb == nil {
		return errors.New("register callback: nil callback")
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.calls[id]; ok {
		return fmt.Errorf("register callback: ID %v is already pending", id)
	}
	c.calls[id] = &pendingCall{cb: cb, expires: now.Add(cb.ttl)}
	rootMetrics.callbackPending.Add(1)
	return nil
}

// resolve delivers ev as a response to the callback for id, if there is one.
func (c *correlator) resolve(id uuid.UUID, ev *Event) {
	c.μ.Lock()
	pc, ok := c.calls[id]
	if !ok {
		c.μ.Unlock()
		c.log.Debug("no callback for response",
			zap.Stringer("id", id), zap.String("type", ev.Type), zap.String("origin", ev.Origin))
		rootMetrics.responseDropped.Add(1)
		return
	}
	if !pc.cb.accepts(ev.Packet) {
		c.removeLocked(id)
		c.μ.Unlock()
		c.log.Warn("response type does not match callback; callback dropped",
			zap.Stringer("id", id), zap.String("type", ev.Type), zap.Stringer("want", pc.cb.want))
		rootMetrics.responseDropped.Add(1)
		return
	}

	var fire func()
	if !pc.cb.multi {
		c.removeLocked(id)
		fire = func() { pc.cb.onResponse(ev) }
	} else {
		pc.got = append(pc.got, ev)
		if len(pc.got) >= pc.cb.max {
			c.removeLocked(id)
			evs := pc.got
			fire = func() { pc.cb.fireResponses(evs) }
		}
	}
	c.μ.Unlock()

	if fire != nil {
		rootMetrics.callbackResolved.Add(1)
		c.invoke(id, "response", fire)
	}
}

// sweep removes the callbacks that have expired as of now and fires their
// expiry actions. It returns the number of callbacks removed.
func (c *correlator) sweep(now time.Time) int {
	c.μ.Lock()
	var expired []*pendingCall
	var ids []uuid.UUID
	for id, pc := range c.calls {
		if !now.Before(pc.expires) {
			c.removeLocked(id)
			expired = append(expired, pc)
			ids = append(ids, id)
		}
	}
	c.μ.Unlock()

	for i, pc := range expired {
		rootMetrics.callbackExpired.Add(1)
		if pc.cb.multi && len(pc.got) > 0 {
			c.invoke(ids[i], "partial responses", func() { pc.cb.fireResponses(pc.got) })
		} else {
			c.invoke(ids[i], "timeout", pc.cb.fireTimeout)
		}
	}
	return len(expired)
}

// run sweeps expired callbacks every period until ctx ends.
func (c *correlator) run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.sweep(now)
		}
	}
}

// len reports the number of pending callbacks.
func (c *correlator) len() int {
	c.μ.Lock()
	defer c.μ.Unlock()
	return len(c.calls)
}

// clear discards all pending callbacks without firing them.
func (c *correlator) clear() {
	c.μ.Lock()
	defer c.μ.Unlock()
	rootMetrics.callbackPending.Add(-int64(len(c.calls)))
	clear(c.calls)
}

func (c *correlator) removeLocked(id uuid.UUID) {
	delete(c.calls, id)
	rootMetrics.callbackPending.Add(-1)
}

// invoke calls f, recovering and logging a panic.
func (c *correlator) invoke(id uuid.UUID, what string, f func()) {
	defer func() {
		if x := recover(); x != nil {
			rootMetrics.handlerFailed.Add(1)
			c.log.Error("callback panicked (recovered)",
				zap.Stringer("id", id), zap.String("action", what), zap.Any("panic", x))
		}
	}()
	f()
}
