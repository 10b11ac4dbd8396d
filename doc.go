// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package chirpbus implements typed publish/subscribe messaging between the
// nodes of a distributed service.
//
// Nodes exchange packets over a channel-based message bus such as Redis.
// A packet is a Go struct whose type has been registered with the node. It
// travels in an envelope that carries its logical type name, a unique ID, the
// origin of the sender, and, for a response, the ID of the packet it answers.
//
// # Nodes
//
// The core type defined by this package is the [Node]. To create a node
// attached to a shared channel:
//
//	n, err := chirpbus.New(chirpbus.Options{Channel: "orders"})
//
// Register the packet types the node sends and receives:
//
//	type Ping struct { Value int }
//	type Pong struct { Value int }
//
//	n.RegisterPacket(Ping{}, Pong{})
//
// The logical name of a packet type is its Go name in upper snake case
// ("PING", "PONG" above), unless the type has a PacketType method.  Each
// exported field of the struct is encoded under its name with the leading
// capitals lowered ("value"), unless a "chirp" struct tag gives another name.
//
// To attach the node to a Redis server and begin receiving:
//
//	if err := n.Connect(ctx, "localhost", 6379, ""); err != nil {
//	   log.Fatalf("Connect: %v", err)
//	}
//	if err := n.Subscribe(ctx); err != nil {
//	   log.Fatalf("Subscribe: %v", err)
//	}
//	defer n.Cleanup()
//
// To use some other transport, such as the in-memory transport used for
// testing, call [Node.Start] instead of Connect.
//
// # Listeners
//
// Received packets are delivered to the handlers of registered listeners.
// A [Handler] handles packets whose type is assignable to its type parameter:
//
//	n.RegisterListener(chirpbus.Listen(
//	   chirpbus.Handle(func(ctx context.Context, ev *chirpbus.Event, p *Ping) error {
//	      return ev.Respond(ctx, Pong{Value: p.Value * 2})
//	   }),
//	))
//
// # Callbacks
//
// A packet published with a [Callback] receives the responses sent to it.
// A single-response callback fires once, for the first response or for its
// timeout:
//
//	n.Publish(ctx, Ping{Value: 7}, &chirpbus.PublishOptions{
//	   Callback: chirpbus.Single(func(ev *chirpbus.Event, p *Pong) {
//	      log.Printf("pong %d from %s", p.Value, ev.Origin)
//	   }).OnTimeout(func() {
//	      log.Print("no response")
//	   }),
//	})
//
// A multi-response callback constructed by [Multiple] collects responses from
// several nodes. The request package provides blocking wrappers.
//
// # Delivery
//
// Delivery is best-effort: packets sent while no node is subscribed are
// lost, and a failure to publish is logged rather than reported. A node does
// not receive its own packets unless they were published with Self set.
package chirpbus
