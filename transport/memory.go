// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"net"
	"sync"
)

// memBuffer is the number of undelivered messages a memory subscription
// holds before it drops new messages.
const memBuffer = 1024

// Memory is an in-process Transport that passes messages directly between
// subscriptions without a network. A zero Memory is not ready for use; call
// NewMemory to construct one.
//
// Memory can simulate a lost connection: Disconnect fails all open
// subscriptions and rejects new operations until Reconnect is called.
type Memory struct {
	μ      sync.Mutex
	subs   map[*memSub]struct{}
	down   bool
	closed bool
}

// NewMemory constructs a new empty in-memory transport.
func NewMemory() *Memory { return &Memory{subs: make(map[*memSub]struct{})} }

// Publish implements a method of the [Transport] interface.
func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	for s := range m.subs {
		if s.channel == channel {
			s.deliver(&Message{Channel: channel, Payload: payload})
		}
	}
	return nil
}

// Subscribe implements a method of the [Transport] interface.
func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	s := &memSub{
		m:       m,
		channel: channel,
		ch:      make(chan *Message, memBuffer),
		done:    make(chan struct{}),
	}
	m.subs[s] = struct{}{}
	return s, nil
}

// Close implements a method of the [Transport] interface.
func (m *Memory) Close() error {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	m.closed = true
	m.dropAllLocked(net.ErrClosed)
	return nil
}

// Disconnect simulates the loss of the connection to the message bus.  All
// open subscriptions fail with ErrDisconnected, and all further operations
// report ErrDisconnected until Reconnect is called.
func (m *Memory) Disconnect() {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.down = true
	m.dropAllLocked(ErrDisconnected)
}

// Reconnect restores a connection lost by Disconnect.
func (m *Memory) Reconnect() {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.down = false
}

// Subscribers reports the number of open subscriptions to channel.
func (m *Memory) Subscribers(channel string) int {
	m.μ.Lock()
	defer m.μ.Unlock()
	var n int
	for s := range m.subs {
		if s.channel == channel {
			n++
		}
	}
	return n
}

func (m *Memory) checkLocked() error {
	if m.closed {
		return net.ErrClosed
	} else if m.down {
		return ErrDisconnected
	}
	return nil
}

func (m *Memory) dropAllLocked(err error) {
	for s := range m.subs {
		s.fail(err)
	}
	clear(m.subs)
}

type memSub struct {
	m       *Memory
	channel string
	ch      chan *Message
	once    sync.Once
	done    chan struct{}
	err     error // set before done is closed
}

// deliver enqueues msg without blocking. If the buffer is full the message is
// dropped.
func (s *memSub) deliver(msg *Message) {
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *memSub) fail(err error) {
	s.once.Do(func() { s.err = err; close(s.done) })
}

// Recv implements a method of the [Subscription] interface.
func (s *memSub) Recv(ctx context.Context) (*Message, error) {
	select {
	case <-s.done:
		return nil, s.err
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements a method of the [Subscription] interface.
func (s *memSub) Close() error {
	s.m.μ.Lock()
	delete(s.m.subs, s)
	s.m.μ.Unlock()
	s.fail(net.ErrClosed)
	return nil
}
