// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/creachadair/chirpbus/catalog"
)

// A Listener is a collection of handlers registered together.  A listener
// value must be comparable, so that it can later be identified for removal.
type Listener interface {
	// Handlers returns the handlers of the listener. It is called once, when
	// the listener is registered.
	Handlers() []Handler
}

// A Handler processes received packets of one type.  The node associated
// with a handler can be obtained from its context argument using the
// ContextNode helper.
//
// An error or panic from a handler is logged, and does not affect other
// handlers or the delivery of later packets.
type Handler struct {
	packet reflect.Type
	fn     func(context.Context, *Event) error
}

// Handle constructs a Handler that calls f for each received packet whose
// type is assignable to T. T may be a packet type, a pointer to a packet
// type, or an interface type. For example, a handler for any packet is
// constructed by Handle[any].
func Handle[T any](f func(context.Context, *Event, T) error) Handler {
	want := reflect.TypeFor[T]()
	return Handler{
		packet: want,
		fn: func(ctx context.Context, ev *Event) error {
			v, ok := packetAs(ev.Packet, want)
			if !ok {
				return fmt.Errorf("packet %T is not assignable to %v", ev.Packet, want)
			}
			return f(ctx, ev, v.Interface().(T))
		},
	}
}

// HandleType constructs a Handler that calls f for each received packet
// whose type is assignable to t, or whose pointed-to type is. It is the
// untyped equivalent of Handle, for use when t is computed at runtime.
func HandleType(t reflect.Type, f func(context.Context, *Event) error) Handler {
	return Handler{packet: t, fn: f}
}

// Packet reports the packet type handled by h.
func (h Handler) Packet() reflect.Type { return h.packet }

// Accepts reports whether h handles packets of the same type as pkt. A
// handler for a pointer type accepts values of the pointed-to type, and the
// reverse.
func (h Handler) Accepts(pkt any) bool {
	_, ok := packetAs(pkt, h.packet)
	return ok
}

// ListenerFunc adapts a slice of handlers to the Listener interface.
// Because a slice is not comparable, a *ListenerFunc must be registered.
type ListenerFunc []Handler

// Handlers implements the [Listener] interface.
func (f *ListenerFunc) Handlers() []Handler { return *f }

// Listen constructs a Listener from the given handlers.
func Listen(hs ...Handler) Listener { f := ListenerFunc(hs); return &f }

type listenerEntry struct {
	l  Listener
	hs []Handler
}

// listenerTable is an ordered set of registered listeners.
type listenerTable struct {
	μ    sync.RWMutex
	list []listenerEntry
}

func (t *listenerTable) add(l Listener) error {
	if l == nil {
		return errors.New("register listener: nil listener")
	} else if !reflect.TypeOf(l).Comparable() {
		return fmt.Errorf("register listener: %T is not comparable: %w", l, catalog.ErrInvalidType)
	}
	hs := slices.Clone(l.Handlers())
	for i, h := range hs {
		if h.fn == nil || h.packet == nil {
			return fmt.Errorf("register listener %T: handler %d is not initialized", l, i)
		}
	}

	t.μ.Lock()
	defer t.μ.Unlock()
	if t.findLocked(l) >= 0 {
		return fmt.Errorf("register listener %T: already registered: %w", l, catalog.ErrDuplicate)
	}
	t.list = append(t.list, listenerEntry{l: l, hs: hs})
	return nil
}

func (t *listenerTable) remove(l Listener) bool {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	if i := t.findLocked(l); i >= 0 {
		t.list = slices.Delete(t.list, i, i+1)
		return true
	}
	return false
}

func (t *listenerTable) findLocked(l Listener) int {
	return slices.IndexFunc(t.list, func(e listenerEntry) bool { return e.l == l })
}

// match returns the handlers that accept pkt, in registration order.  The
// result is a snapshot, and is not affected by later changes to the table.
func (t *listenerTable) match(pkt any) []Handler {
	t.μ.RLock()
	defer t.μ.RUnlock()
	var out []Handler
	for _, e := range t.list {
		for _, h := range e.hs {
			if h.Accepts(pkt) {
				out = append(out, h)
			}
		}
	}
	return out
}


func (t *listenerTable) clear() {
	t.μ.Lock()
	defer t.μ.Unlock()
	t.list = nil
}
