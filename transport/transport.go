// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package transport defines the publish/subscribe message bus used by a
// chirpbus node, and provides implementations backed by Redis and by memory.
package transport

import (
	"context"
	"errors"
	"net"
)

// A Transport is a channel-based publish/subscribe message bus.  Delivery is
// best-effort: a message published to a channel is delivered to each
// subscription active on that channel at the time of publication, at most
// once.
//
// The methods of an implementation must be safe for concurrent use by
// multiple goroutines.
type Transport interface {
	// Publish sends payload to all subscribers of channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe opens a subscription to the named channel. The subscription
	// is active when Subscribe returns successfully.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close closes the transport. After a transport is closed, all further
	// operations on it must report an error, and all open subscriptions
	// report an error from Recv.
	Close() error
}

// A Subscription is a stream of messages received on a channel.
type Subscription interface {
	// Recv blocks until the next message is available, ctx ends, or the
	// subscription fails. After Recv reports an error other than a context
	// error, the caller should close the subscription and open a new one.
	Recv(ctx context.Context) (*Message, error)

	// Close closes the subscription.
	Close() error
}

// A Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload string
}

// ErrDisconnected is reported by operations on a transport whose connection
// to the message bus has been lost.
var ErrDisconnected = errors.New("transport disconnected")

// IsClosed reports whether err indicates a transport or subscription that
// was closed deliberately.
func IsClosed(err error) bool { return errors.Is(err, net.ErrClosed) }
