// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package request provides blocking helpers for exchanges of a packet and
// its responses.
package request

import (
	"context"
	"errors"
	"time"

	"github.com/creachadair/chirpbus"
)

// ErrTimeout is reported by Call when no response arrives before the
// callback expires.
var ErrTimeout = errors.New("request timed out")

// Options are optional settings for a request.
type Options struct {
	// Destination, if set, is the origin of the only node that receives the
	// request.
	Destination string

	// TTL is the time to wait for responses. If zero, the remaining time of
	// the context deadline is used, or chirpbus.DefaultTTL if there is none.
	TTL time.Duration

	// Self, if true, permits the sending node to answer its own request.
	Self bool
}

func (o *Options) ttl(ctx context.Context) time.Duration {
	if o != nil && o.TTL > 0 {
		return o.TTL
	} else if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return chirpbus.DefaultTTL
}

func (o *Options) publish(cb *chirpbus.Callback) *chirpbus.PublishOptions {
	po := &chirpbus.PublishOptions{Callback: cb}
	if o != nil {
		po.Destination, po.Self = o.Destination, o.Self
	}
	return po
}

type result[T any] struct {
	ev  *chirpbus.Event
	pkt T
}

// Call publishes pkt from n and blocks until the first response of type T
// arrives, the request times out, or ctx ends. On success it returns the
// response event and its packet. If no response arrives in time, Call
// reports ErrTimeout.
func Call[T any](ctx context.Context, n *chirpbus.Node, pkt any, opts *Options) (*chirpbus.Event, T, error) {
	var zero T
	done := make(chan result[T], 1)
	timeout := make(chan struct{})
	cb := chirpbus.Single(func(ev *chirpbus.Event, p T) {
		done <- result[T]{ev: ev, pkt: p}
	}).TTL(opts.ttl(ctx)).OnTimeout(func() { close(timeout) })

	if _, err := n.Publish(ctx, pkt, opts.publish(cb)); err != nil {
		return nil, zero, err
	}
	select {
	case r := <-done:
		return r.ev, r.pkt, nil
	case <-timeout:
		return nil, zero, ErrTimeout
	case <-ctx.Done():
		return nil, zero, ctx.Err()
	}
}

// Gather publishes pkt from n and collects responses of type T until max
// have arrived or the request times out. If max ≤ 0, responses are collected
// until the request times out. Gather returns the responses collected, which
// may be empty. If ctx ends first, Gather reports its error.
func Gather[T any](ctx context.Context, n *chirpbus.Node, pkt any, max int, opts *Options) ([]*chirpbus.Event, error) {
	done := make(chan []*chirpbus.Event, 1)
	cb := chirpbus.Multiple[T](func(evs []*chirpbus.Event) { done <- evs }).
		TTL(opts.ttl(ctx)).
		Max(max).
		OnTimeout(func() { done <- nil })

	if _, err := n.Publish(ctx, pkt, opts.publish(cb)); err != nil {
		return nil, err
	}
	select {
	case evs := <-done:
		return evs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
