// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package peers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/peers"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type Hello struct{ From string }

// greeter returns a setup function that registers Hello and a listener that
// reports each delivery on seen as "receiver<sender".
func greeter(seen chan<- string) func(*chirpbus.Node) error {
	return func(n *chirpbus.Node) error {
		if err := n.RegisterPacket(Hello{}); err != nil {
			return err
		}
		return n.RegisterListener(chirpbus.Listen(
			chirpbus.Handle(func(ctx context.Context, ev *chirpbus.Event, h *Hello) error {
				seen <- chirpbus.ContextNode(ctx).Origin() + "<" + h.From
				return nil
			}),
		))
	}
}

func collect(t *testing.T, seen <-chan string, n int) []string {
	t.Helper()
	var got []string
	timeout := time.After(5 * time.Second)
	for range n {
		select {
		case s := <-seen:
			got = append(got, s)
		case <-timeout:
			t.Fatalf("Timed out after %d deliveries", len(got))
		}
	}
	return got
}

func TestLocal(t *testing.T) {
	defer leaktest.Check(t)()

	seen := make(chan string, 2)
	loc, err := peers.NewLocal(t.Context(), greeter(seen))
	if err != nil {
		t.Fatalf("NewLocal: unexpected error: %v", err)
	}
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: unexpected error: %v", err)
		}
	}()

	if got, want := []string{loc.A.Origin(), loc.B.Origin()}, []string{"local-0", "local-1"}; !cmp.Equal(got, want) {
		t.Errorf("Origins: got %q, want %q", got, want)
	}

	ctx := t.Context()
	if _, err := loc.A.Publish(ctx, Hello{From: "A"}, nil); err != nil {
		t.Fatalf("Publish A: unexpected error: %v", err)
	}
	if _, err := loc.B.Publish(ctx, &Hello{From: "B"}, nil); err != nil {
		t.Fatalf("Publish B: unexpected error: %v", err)
	}
	got := collect(t, seen, 2)
	if diff := cmp.Diff([]string{"local-0<B", "local-1<A"}, got, cmpopts.SortSlices(func(a, b string) bool {
		return a < b
	})); diff != "" {
		t.Errorf("Deliveries (-want, +got):\n%s", diff)
	}
}

func TestCluster(t *testing.T) {
	defer leaktest.Check(t)()

	const numNodes = 4
	seen := make(chan string, numNodes)
	setup := greeter(seen)
	c, err := peers.NewCluster(t.Context(), numNodes, chirpbus.Options{Origin: "n"}, func(_ int, n *chirpbus.Node) error {
		return setup(n)
	})
	if err != nil {
		t.Fatalf("NewCluster: unexpected error: %v", err)
	}
	defer func() {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop: unexpected error: %v", err)
		}
	}()

	for i, n := range c.Nodes {
		if got, want := n.Channel(), peers.LocalChannel; got != want {
			t.Errorf("Node %d channel: got %q, want %q", i, got, want)
		}
	}

	if _, err := c.Nodes[0].Publish(t.Context(), Hello{From: "n0"}, nil); err != nil {
		t.Fatalf("Publish: unexpected error: %v", err)
	}

	// Every node except the sender receives the packet.
	got := collect(t, seen, numNodes-1)
	if diff := cmp.Diff([]string{"n1<n0", "n2<n0", "n3<n0"}, got, cmpopts.SortSlices(func(a, b string) bool {
		return a < b
	})); diff != "" {
		t.Errorf("Deliveries (-want, +got):\n%s", diff)
	}
}

func TestSetupError(t *testing.T) {
	defer leaktest.Check(t)()

	bad := errors.New("bad setup")
	_, err := peers.NewCluster(t.Context(), 3, chirpbus.Options{}, func(i int, n *chirpbus.Node) error {
		if i == 1 {
			return bad
		}
		return nil
	})
	if !errors.Is(err, bad) {
		t.Errorf("NewCluster: got %v, want %v", err, bad)
	}
}
