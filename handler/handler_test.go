// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/handler"
	"github.com/creachadair/chirpbus/peers"
	"github.com/fortytw2/leaktest"
)

type Ping struct{ Value int }

type Pong struct{ Value int }

func newLocal(t *testing.T) *peers.Local {
	t.Helper()
	loc, err := peers.NewLocal(t.Context(), func(n *chirpbus.Node) error {
		return n.RegisterPacket(Ping{}, Pong{})
	})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return loc
}

// call publishes a Ping with value v from a and waits for a Pong. It returns
// -1 if no response arrives.
func call(t *testing.T, a *chirpbus.Node, v int) int {
	t.Helper()
	got := make(chan int, 1)
	_, err := a.Publish(t.Context(), Ping{Value: v}, &chirpbus.PublishOptions{
		Callback: chirpbus.Single(func(_ *chirpbus.Event, p *Pong) { got <- p.Value }).
			TTL(500 * time.Millisecond).
			OnTimeout(func() { got <- -1 }),
	})
	if err != nil {
		t.Fatalf("Publish: unexpected error: %v", err)
	}
	return <-got
}

func TestHandler(t *testing.T) {
	defer leaktest.Check(t)()
	loc := newLocal(t)
	defer loc.Stop()

	check := func(t *testing.T, want int, h chirpbus.Handler) {
		t.Helper()
		l := chirpbus.Listen(h)
		if err := loc.B.RegisterListener(l); err != nil {
			t.Fatalf("RegisterListener: %v", err)
		}
		defer loc.B.RemoveListener(l)
		if got := call(t, loc.A, 5); got != want {
			t.Errorf("Response: got %d, want %d", got, want)
		}
	}
	checkEvent := func(t *testing.T, ctx context.Context) {
		t.Helper()
		if ev := handler.ContextEvent(ctx); ev == nil {
			t.Error("Context does not contain event")
		} else if ev.Origin != loc.A.Origin() {
			t.Errorf("Event origin: got %q, want %q", ev.Origin, loc.A.Origin())
		}
	}

	t.Run("ParamResultError", func(t *testing.T) {
		check(t, 10, handler.ParamResultError(func(ctx context.Context, p *Ping) (Pong, error) {
			checkEvent(t, ctx)
			return Pong{Value: 2 * p.Value}, nil
		}))
	})
	t.Run("ParamResultError/Value", func(t *testing.T) {
		check(t, 6, handler.ParamResultError(func(ctx context.Context, p Ping) (*Pong, error) {
			return &Pong{Value: p.Value + 1}, nil
		}))
	})
	t.Run("ParamResultError/Fail", func(t *testing.T) {
		check(t, -1, handler.ParamResultError(func(ctx context.Context, p *Ping) (Pong, error) {
			return Pong{}, errors.New("no pong for you")
		}))
	})
	t.Run("ParamResult", func(t *testing.T) {
		check(t, 25, handler.ParamResult(func(ctx context.Context, p *Ping) Pong {
			checkEvent(t, ctx)
			return Pong{Value: p.Value * p.Value}
		}))
	})
	t.Run("ParamError", func(t *testing.T) {
		saw := make(chan int, 1)
		check(t, -1, handler.ParamError(func(ctx context.Context, p *Ping) error {
			checkEvent(t, ctx)
			saw <- p.Value
			return nil
		}))
		if v := <-saw; v != 5 {
			t.Errorf("Handler saw %d, want 5", v)
		}
	})
	t.Run("Param", func(t *testing.T) {
		got := make(chan int, 1)
		check(t, -1, handler.Param(func(p Ping) { got <- p.Value }))
		if v := <-got; v != 5 {
			t.Errorf("Handler saw %d, want 5", v)
		}
	})
}

type doubler struct{ calls int }

func (d *doubler) OnPing(ctx context.Context, ev *chirpbus.Event, p *Ping) error {
	d.calls++
	return ev.Respond(ctx, Pong{Value: 2 * p.Value})
}

func (d *doubler) OnPong(ev *chirpbus.Event, p Pong) { d.calls++ }

func (d *doubler) Helper() string { return "ignored" }

type badListener struct{}

func (badListener) OnPing(p *Ping) {}

type emptyListener struct{}

func TestMethods(t *testing.T) {
	defer leaktest.Check(t)()
	loc := newLocal(t)
	defer loc.Stop()

	d := new(doubler)
	l, err := handler.Methods(d)
	if err != nil {
		t.Fatalf("Methods: unexpected error: %v", err)
	}
	if n := len(l.Handlers()); n != 2 {
		t.Errorf("Methods: got %d handlers, want 2", n)
	}
	if err := loc.B.RegisterListener(l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if got := call(t, loc.A, 21); got != 42 {
		t.Errorf("Response: got %d, want 42", got)
	}
	if !loc.B.RemoveListener(l) {
		t.Error("RemoveListener: got false, want true")
	}
	if d.calls != 1 {
		t.Errorf("Listener calls: got %d, want 1", d.calls)
	}

	t.Run("BadSignature", func(t *testing.T) {
		l, err := handler.Methods(badListener{})
		if err == nil || !strings.Contains(err.Error(), "unsupported handler signature") {
			t.Errorf("Methods: got (%v, %v), want signature error", l, err)
		}
	})
	t.Run("NoMethods", func(t *testing.T) {
		l, err := handler.Methods(emptyListener{})
		if err == nil {
			t.Errorf("Methods: got %v, want error", l)
		}
	})
	t.Run("Nil", func(t *testing.T) {
		if l, err := handler.Methods(nil); err == nil {
			t.Errorf("Methods: got %v, want error", l)
		}
	})
}
