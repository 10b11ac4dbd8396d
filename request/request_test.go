// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package request_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/catalog"
	"github.com/creachadair/chirpbus/handler"
	"github.com/creachadair/chirpbus/peers"
	"github.com/creachadair/chirpbus/request"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

type Query struct{ Name string }

type Answer struct {
	From  int
	Value string
}

type Unregistered struct{}

// newCluster starts n nodes. Every node but the first answers queries.
func newCluster(t *testing.T, n int) *peers.Cluster {
	t.Helper()
	c, err := peers.NewCluster(t.Context(), n, chirpbus.Options{Origin: "q"}, func(i int, node *chirpbus.Node) error {
		if err := node.RegisterPacket(Query{}, Answer{}); err != nil {
			return err
		}
		if i == 0 {
			return nil
		}
		return node.RegisterListener(chirpbus.Listen(
			handler.ParamResult(func(_ context.Context, q *Query) Answer {
				return Answer{From: i, Value: "hello, " + q.Name}
			}),
		))
	})
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	return c
}

func TestCall(t *testing.T) {
	defer leaktest.Check(t)()
	c := newCluster(t, 2)
	defer c.Stop()
	ctx := t.Context()

	ev, ans, err := request.Call[*Answer](ctx, c.Nodes[0], Query{Name: "world"}, nil)
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	if diff := cmp.Diff(&Answer{From: 1, Value: "hello, world"}, ans); diff != "" {
		t.Errorf("Answer (-want, +got):\n%s", diff)
	}
	if !ev.Responding || ev.Origin != "q1" {
		t.Errorf("Event: got %v, want response from q1", ev)
	}

	t.Run("Value", func(t *testing.T) {
		_, ans, err := request.Call[Answer](ctx, c.Nodes[0], &Query{Name: "value"}, nil)
		if err != nil {
			t.Fatalf("Call: unexpected error: %v", err)
		}
		if ans.Value != "hello, value" {
			t.Errorf("Answer: got %+v", ans)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		_, ans, err := request.Call[*Answer](ctx, c.Nodes[0], Query{Name: "nobody"}, &request.Options{
			Destination: "q99",
			TTL:         50 * time.Millisecond,
		})
		if !errors.Is(err, request.ErrTimeout) {
			t.Errorf("Call: got (%v, %v), want %v", ans, err, request.ErrTimeout)
		}
	})

	t.Run("ContextDeadline", func(t *testing.T) {
		dctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, _, err := request.Call[*Answer](dctx, c.Nodes[0], Query{}, &request.Options{Destination: "q99"})
		if err == nil {
			t.Fatal("Call: got nil, want error")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Call took %v, want about 50ms", elapsed)
		}
	})

	t.Run("Unregistered", func(t *testing.T) {
		_, _, err := request.Call[*Answer](ctx, c.Nodes[0], Unregistered{}, nil)
		if !errors.Is(err, catalog.ErrUnknownType) {
			t.Errorf("Call: got %v, want %v", err, catalog.ErrUnknownType)
		}
	})
}

func TestGather(t *testing.T) {
	defer leaktest.Check(t)()
	const numNodes = 4
	c := newCluster(t, numNodes)
	defer c.Stop()
	ctx := t.Context()

	froms := func(evs []*chirpbus.Event) []int {
		var out []int
		for _, a := range chirpbus.Packets[*Answer](evs) {
			out = append(out, a.From)
		}
		slices.Sort(out)
		return out
	}

	t.Run("Max", func(t *testing.T) {
		evs, err := request.Gather[*Answer](ctx, c.Nodes[0], Query{Name: "all"}, numNodes-1, &request.Options{
			TTL: 5 * time.Second,
		})
		if err != nil {
			t.Fatalf("Gather: unexpected error: %v", err)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, froms(evs)); diff != "" {
			t.Errorf("Responders (-want, +got):\n%s", diff)
		}
	})

	t.Run("Partial", func(t *testing.T) {
		evs, err := request.Gather[*Answer](ctx, c.Nodes[0], Query{Name: "some"}, 10, &request.Options{
			TTL: 100 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Gather: unexpected error: %v", err)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, froms(evs)); diff != "" {
			t.Errorf("Responders (-want, +got):\n%s", diff)
		}
	})

	t.Run("Cap", func(t *testing.T) {
		evs, err := request.Gather[*Answer](ctx, c.Nodes[0], Query{Name: "two"}, 2, nil)
		if err != nil {
			t.Fatalf("Gather: unexpected error: %v", err)
		}
		if len(evs) != 2 {
			t.Errorf("Gather: got %d responses, want 2", len(evs))
		}
	})

	t.Run("None", func(t *testing.T) {
		evs, err := request.Gather[*Answer](ctx, c.Nodes[0], Query{}, 0, &request.Options{
			Destination: "q99",
			TTL:         50 * time.Millisecond,
		})
		if err != nil || len(evs) != 0 {
			t.Errorf("Gather: got (%v, %v), want no responses", evs, err)
		}
	})
}
