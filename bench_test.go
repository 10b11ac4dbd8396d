// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package chirpbus_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/packet"
	"github.com/creachadair/chirpbus/peers"
)

type Blob struct {
	Text string
	Tags []string
	Meta map[string]int
}

type Ack struct{ N int }

func BenchmarkRoundTrip(b *testing.B) {
	payload := Blob{
		Text: strings.Repeat("fuzzy wuzzy was a bear\n", 8),
		Tags: []string{"fuzzy", "wuzzy", "bear"},
		Meta: map[string]int{"hair": 0, "fuzzy": 1},
	}
	for _, f := range []packet.Format{packet.JSON, packet.CBOR} {
		b.Run(f.Name(), func(b *testing.B) {
			c, err := peers.NewCluster(b.Context(), 2, chirpbus.Options{Format: f}, func(i int, n *chirpbus.Node) error {
				if err := n.RegisterPacket(Blob{}, Ack{}); err != nil {
					return err
				}
				if i == 0 {
					return nil
				}
				return n.RegisterListener(chirpbus.Listen(chirpbus.Handle(
					func(ctx context.Context, ev *chirpbus.Event, p *Blob) error {
						return ev.Respond(ctx, Ack{N: len(p.Text)})
					})))
			})
			if err != nil {
				b.Fatalf("NewCluster: %v", err)
			}
			defer c.Stop()
			runBench(b, c.Nodes[0], payload)
		})
	}
}

func runBench(b *testing.B, n *chirpbus.Node, pkt any) {
	b.Helper()
	ctx := b.Context()
	done := make(chan bool, 1)
	for b.Loop() {
		if _, err := n.Publish(ctx, pkt, &chirpbus.PublishOptions{
			Callback: chirpbus.Single(func(*chirpbus.Event, *Ack) { done <- true }).
				TTL(time.Second).
				OnTimeout(func() { done <- false }),
		}); err != nil {
			b.Fatal(err)
		}
		if !<-done {
			b.Fatal("No response")
		}
	}
}
