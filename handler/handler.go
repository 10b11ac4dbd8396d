// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the chirpbus.Handler type for
// functions with other signatures.
//
// Parameters are packets of a registered type P, which may be the struct
// type or a pointer to it. Results are response packets, which are sent back
// to the origin of the request packet.
package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creachadair/chirpbus"
)

// evContextKey is a context key for the event value to a handler.
type evContextKey struct{}

// ContextEvent returns the original event passed to the handler, or nil if
// ctx has no associated event. The context passed to a function adapted by
// this package will have this value.
func ContextEvent(ctx context.Context) *chirpbus.Event {
	if v := ctx.Value(evContextKey{}); v != nil {
		return v.(*chirpbus.Event)
	}
	return nil
}

// ParamResultError adapts a function f that accepts a packet of type P and
// returns a response of type R and an error, to a chirpbus.Handler.  If f
// succeeds, its result is sent as a response to the packet.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) chirpbus.Handler {
	return chirpbus.Handle(func(ctx context.Context, ev *chirpbus.Event, p P) error {
		r, err := f(context.WithValue(ctx, evContextKey{}, ev), p)
		if err != nil {
			return err
		}
		return ev.Respond(ctx, r)
	})
}

// ParamResult adapts a function f that accepts a packet of type P and
// returns a response of type R without error, to a chirpbus.Handler.
func ParamResult[P, R any](f func(context.Context, P) R) chirpbus.Handler {
	return chirpbus.Handle(func(ctx context.Context, ev *chirpbus.Event, p P) error {
		return ev.Respond(ctx, f(context.WithValue(ctx, evContextKey{}, ev), p))
	})
}

// ParamError adapts a function f that accepts a packet of type P and returns
// an error with no response, to a chirpbus.Handler.
func ParamError[P any](f func(context.Context, P) error) chirpbus.Handler {
	return chirpbus.Handle(func(ctx context.Context, ev *chirpbus.Event, p P) error {
		return f(context.WithValue(ctx, evContextKey{}, ev), p)
	})
}

// Param adapts a function f that accepts a packet of type P, to a
// chirpbus.Handler.
func Param[P any](f func(P)) chirpbus.Handler {
	return chirpbus.Handle(func(_ context.Context, _ *chirpbus.Event, p P) error {
		f(p)
		return nil
	})
}

var (
	ctxType   = reflect.TypeFor[context.Context]()
	eventType = reflect.TypeFor[*chirpbus.Event]()
	errorType = reflect.TypeFor[error]()
)

// Methods constructs a listener from the methods of v whose names begin with
// "On" and which have one of the signatures
//
//	func (context.Context, *chirpbus.Event, P) error
//	func (*chirpbus.Event, P)
//
// for some packet type P. Methods with other names are ignored.  It reports
// an error if an "On" method has some other signature, or if v has no
// handler methods.
//
// The result is comparable, and can be passed to RemoveListener.
func Methods(v any) (chirpbus.Listener, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.New("methods: nil receiver")
	}
	rt := rv.Type()
	ml := &methodListener{recv: v}
	for i := range rt.NumMethod() {
		m := rt.Method(i)
		if !strings.HasPrefix(m.Name, "On") {
			continue
		}
		h, err := methodHandler(rv.Method(i))
		if err != nil {
			return nil, fmt.Errorf("method %v.%s: %w", rt, m.Name, err)
		}
		ml.hs = append(ml.hs, h)
	}
	if len(ml.hs) == 0 {
		return nil, fmt.Errorf("methods: type %v has no handler methods", rt)
	}
	return ml, nil
}

func methodHandler(fn reflect.Value) (chirpbus.Handler, error) {
	ft := fn.Type()
	switch {
	case ft.NumIn() == 3 && ft.NumOut() == 1 &&
		ft.In(0) == ctxType && ft.In(1) == eventType && ft.Out(0) == errorType:
		pt := ft.In(2)
		return chirpbus.HandleType(pt, func(ctx context.Context, ev *chirpbus.Event) error {
			hctx := context.WithValue(ctx, evContextKey{}, ev)
			out := fn.Call([]reflect.Value{reflect.ValueOf(hctx), reflect.ValueOf(ev), packetValue(ev.Packet, pt)})
			if err, _ := out[0].Interface().(error); err != nil {
				return err
			}
			return nil
		}), nil

	case ft.NumIn() == 2 && ft.NumOut() == 0 && ft.In(0) == eventType:
		pt := ft.In(1)
		return chirpbus.HandleType(pt, func(_ context.Context, ev *chirpbus.Event) error {
			fn.Call([]reflect.Value{reflect.ValueOf(ev), packetValue(ev.Packet, pt)})
			return nil
		}), nil
	}
	return chirpbus.Handler{}, fmt.Errorf("unsupported handler signature %v", ft)
}

// packetValue returns pkt as a value of type want. The caller must ensure
// the handler for want accepts pkt.
func packetValue(pkt any, want reflect.Type) reflect.Value {
	v := reflect.ValueOf(pkt)
	switch {
	case v.Type().AssignableTo(want):
	case v.Kind() == reflect.Pointer:
		v = v.Elem()
	case want.Kind() == reflect.Pointer:
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		v = p
	}
	return v
}

type methodListener struct {
	recv any
	hs   []chirpbus.Handler
}

func (m *methodListener) Handlers() []chirpbus.Handler { return m.hs }

func (m *methodListener) String() string { return fmt.Sprintf("Methods(%T)", m.recv) }
