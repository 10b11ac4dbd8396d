// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/chirpbus/transport"
	"go.uber.org/zap"
)

// State is the state of a channel subscription.
type State int32

const (
	Connecting State = iota // opening the subscription
	Listening               // receiving messages
	Backoff                 // waiting to retry after a failure
	Stopped                 // the node was shut down
)

var stateNames = [...]string{"Connecting", "Listening", "Backoff", "Stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(?)"
}

// SubscriptionInfo describes the current state of a subscription.
type SubscriptionInfo struct {
	Channel string
	State   State
}

// A subscriber maintains a subscription to one channel, delivering each
// message to a handler. When the subscription fails, the subscriber waits for
// its retry delay and subscribes again, until its context ends.
type subscriber struct {
	channel string
	tr      transport.Transport
	delay   time.Duration
	handle  func(context.Context, *transport.Message)
	log     *zap.Logger

	state atomic.Int32
	once  sync.Once
	ready chan struct{} // closed when the subscriber first reaches Listening
}

func newSubscriber(channel string, tr transport.Transport, delay time.Duration,
	log *zap.Logger, handle func(context.Context, *transport.Message)) *subscriber {
	return &subscriber{
		channel: channel,
		tr:      tr,
		delay:   delay,
		handle:  handle,
		log:     log.With(zap.String("channel", channel)),
		ready:   make(chan struct{}),
	}
}

func (s *subscriber) State() State { return State(s.state.Load()) }

func (s *subscriber) setState(st State) { s.state.Store(int32(st)) }

// run maintains the subscription until ctx ends.
func (s *subscriber) run(ctx context.Context) {
	defer s.setState(Stopped)
	for {
		s.setState(Connecting)
		sub, err := s.tr.Subscribe(ctx, s.channel)
		if err == nil {
			s.setState(Listening)
			s.once.Do(func() { close(s.ready) })
			s.log.Debug("subscribed")
			err = s.listen(ctx, sub)
			sub.Close()
		}
		if ctx.Err() != nil {
			return
		}

		rootMetrics.resubscribes.Add(1)
		s.log.Warn("subscription failed; retrying", zap.Duration("delay", s.delay), zap.Error(err))
		s.setState(Backoff)
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// listen delivers messages from sub until it fails or ctx ends.
func (s *subscriber) listen(ctx context.Context, sub transport.Subscription) error {
	// Not every transport interrupts a blocked Recv when its context ends,
	// but all of them do so when the subscription is closed.
	stop := context.AfterFunc(ctx, func() { sub.Close() })
	defer stop()

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		s.handle(ctx, msg)
	}
}
