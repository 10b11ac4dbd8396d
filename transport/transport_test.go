// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package transport_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/creachadair/chirpbus/transport"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func recvOne(t *testing.T, sub transport.Subscription) *transport.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}
	return msg
}

// checkPubSub verifies that messages published on a transport reach the
// subscribers of their channel and no others.
func checkPubSub(t *testing.T, tr transport.Transport) {
	t.Helper()
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "test:a")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	defer a.Close()
	b, err := tr.Subscribe(ctx, "test:b")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	defer b.Close()

	for _, payload := range []string{"one", "two"} {
		if err := tr.Publish(ctx, "test:a", payload); err != nil {
			t.Fatalf("Publish: unexpected error: %v", err)
		}
	}
	if err := tr.Publish(ctx, "test:b", "three"); err != nil {
		t.Fatalf("Publish: unexpected error: %v", err)
	}

	var got []transport.Message
	got = append(got, *recvOne(t, a), *recvOne(t, a), *recvOne(t, b))
	want := []transport.Message{
		{Channel: "test:a", Payload: "one"},
		{Channel: "test:a", Payload: "two"},
		{Channel: "test:b", Payload: "three"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
}

func TestMemory(t *testing.T) {
	defer leaktest.Check(t)()

	m := transport.NewMemory()
	checkPubSub(t, m)

	t.Run("RecvContext", func(t *testing.T) {
		sub, err := m.Subscribe(context.Background(), "quiet")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer sub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if msg, err := sub.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Recv: got (%v, %v), want %v", msg, err, context.DeadlineExceeded)
		}
	})

	if err := m.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	if err := m.Close(); !transport.IsClosed(err) {
		t.Errorf("Close again: got %v, want %v", err, net.ErrClosed)
	}
	if err := m.Publish(context.Background(), "x", "y"); !transport.IsClosed(err) {
		t.Errorf("Publish after close: got %v, want %v", err, net.ErrClosed)
	}
}

func TestMemoryDisconnect(t *testing.T) {
	defer leaktest.Check(t)()

	m := transport.NewMemory()
	ctx := context.Background()
	sub, err := m.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := m.Subscribers("c"); n != 1 {
		t.Errorf("Subscribers: got %d, want 1", n)
	}

	m.Disconnect()
	if msg, err := sub.Recv(ctx); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Recv: got (%v, %v), want %v", msg, err, transport.ErrDisconnected)
	}
	if _, err := m.Subscribe(ctx, "c"); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Subscribe: got %v, want %v", err, transport.ErrDisconnected)
	}
	if err := m.Publish(ctx, "c", "lost"); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Publish: got %v, want %v", err, transport.ErrDisconnected)
	}
	if n := m.Subscribers("c"); n != 0 {
		t.Errorf("Subscribers: got %d, want 0", n)
	}

	m.Reconnect()
	sub2, err := m.Subscribe(ctx, "c")
	if err != nil {
		t.Fatalf("Subscribe after reconnect: %v", err)
	}
	defer sub2.Close()
	if err := m.Publish(ctx, "c", "found"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := recvOne(t, sub2); got.Payload != "found" {
		t.Errorf("Recv: got %q, want found", got.Payload)
	}
}

func TestRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	ctx := context.Background()
	tr, err := transport.DialRedis(ctx, host, port, "")
	if err != nil {
		t.Fatalf("DialRedis: unexpected error: %v", err)
	}
	defer tr.Close()

	checkPubSub(t, tr)

	t.Run("Unreachable", func(t *testing.T) {
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		tr, err := transport.DialRedis(dctx, "127.0.0.1", 1, "")
		if err == nil {
			tr.Close()
			t.Fatal("DialRedis: got nil, want error")
		}
		t.Logf("DialRedis OK: %v", err)
	})

	t.Run("Password", func(t *testing.T) {
		srv.RequireAuth("sekrit")

		if tr, err := transport.DialRedis(ctx, host, port, "wrong"); err == nil {
			tr.Close()
			t.Error("DialRedis with wrong password: got nil, want error")
		}
		tr, err := transport.DialRedis(ctx, host, port, "sekrit")
		if err != nil {
			t.Fatalf("DialRedis with password: unexpected error: %v", err)
		}
		tr.Close()
	})
}
