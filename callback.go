// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"math"
	"reflect"
	"time"
)

// DefaultTTL is the lifetime of a callback that does not set its own.
const DefaultTTL = 200 * time.Millisecond

// A Callback receives the responses to a published packet. A callback is
// either single-response or multi-response:
//
// A single-response callback, constructed by [Single], fires on the first
// response of the expected type. If no response arrives before its TTL
// expires, its timeout action fires instead. Exactly one of the two occurs.
//
// A multi-response callback, constructed by [Multiple], collects responses
// until it has reached its maximum count or its TTL expires, and then
// delivers the responses collected as a list. If it expires with no
// responses, its timeout action fires instead.
//
// A Callback must not be modified after it is passed to Publish.
type Callback struct {
	want        reflect.Type
	ttl         time.Duration
	multi       bool
	max         int
	onResponse  func(*Event)
	onResponses func([]*Event)
	onTimeout   func()
}

// Single constructs a single-response callback that calls f with the first
// response whose packet has type T. T may be a packet type, a pointer to a
// packet type, or an interface type.
func Single[T any](f func(*Event, T)) *Callback {
	want := reflect.TypeFor[T]()
	return &Callback{
		want: want,
		ttl:  DefaultTTL,
		onResponse: func(ev *Event) {
			if f != nil {
				v, _ := packetAs(ev.Packet, want)
				f(ev, v.Interface().(T))
			}
		},
	}
}

// Multiple constructs a multi-response callback that collects responses
// whose packets have type T, and calls f with the list of responses when the
// maximum count is reached or the callback expires. By default the maximum
// is unbounded, so responses are collected until the TTL expires.
func Multiple[T any](f func([]*Event)) *Callback {
	return &Callback{
		want:        reflect.TypeFor[T](),
		ttl:         DefaultTTL,
		multi:       true,
		max:         math.MaxInt,
		onResponses: f,
	}
}

// TTL sets the lifetime of c and returns c to permit chaining.  If d ≤ 0 the
// default lifetime is used.
func (c *Callback) TTL(d time.Duration) *Callback {
	if d <= 0 {
		d = DefaultTTL
	}
	c.ttl = d
	return c
}

// OnTimeout sets the action called when c expires without having received a
// response. It returns c to permit chaining.
func (c *Callback) OnTimeout(f func()) *Callback { c.onTimeout = f; return c }

// Max sets the maximum number of responses collected by a multi-response
// callback, and returns c to permit chaining. If n ≤ 0 the number is
// unbounded. Max has no effect on a single-response callback.
func (c *Callback) Max(n int) *Callback {
	if n <= 0 {
		n = math.MaxInt
	}
	c.max = n
	return c
}

// accepts reports whether the packet of a response is acceptable to c.
func (c *Callback) accepts(pkt any) bool {
	_, ok := packetAs(pkt, c.want)
	return ok
}

func (c *Callback) fireResponses(evs []*Event) {
	if c.onResponses != nil {
		c.onResponses(evs)
	}
}

func (c *Callback) fireTimeout() {
	if c.onTimeout != nil {
		c.onTimeout()
	}
}

// Packets returns the packets of evs as values of type T. Packets whose type
// does not match T are omitted.
func Packets[T any](evs []*Event) []T {
	want := reflect.TypeFor[T]()
	out := make([]T, 0, len(evs))
	for _, ev := range evs {
		if v, ok := packetAs(ev.Packet, want); ok {
			out = append(out, v.Interface().(T))
		}
	}
	return out
}

// packetAs returns pkt as a value assignable to want. Decoded packets are
// pointers, so if want is the struct type the pointer is followed. If want
// is a pointer to the type of pkt, the result points to a copy of pkt.
func packetAs(pkt any, want reflect.Type) (reflect.Value, bool) {
	v := reflect.ValueOf(pkt)
	if !v.IsValid() {
		return v, false
	} else if v.Type().AssignableTo(want) {
		return v, true
	} else if v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Type().AssignableTo(want) {
		return v.Elem(), true
	} else if want.Kind() == reflect.Pointer && v.Type() == want.Elem() {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p, true
	}
	return v, false
}
