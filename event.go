// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/mds/value"
	"github.com/google/uuid"
)

// An Event is a packet received by a node, together with the metadata of
// the envelope that carried it.
type Event struct {
	ID           uuid.UUID // the unique ID of the packet
	Type         string    // the logical name of the packet type
	Packet       any       // the decoded packet, a pointer to its registered type
	Origin       string    // the origin of the sending node
	Responding   bool      // whether the packet is a response
	RespondingTo uuid.UUID // if Responding, the ID of the packet responded to
	Self         bool      // whether the sender allowed delivery to itself
	Sent         time.Time // when the packet was sent, per the sender's clock
	Received     time.Time // when the packet was decoded by this node

	node *Node
}

// Latency reports the elapsed time between when e was sent and when it was
// received. The result depends on the clocks of two nodes agreeing, and may
// be negative if they do not.
func (e *Event) Latency() time.Duration { return e.Received.Sub(e.Sent) }

// Respond publishes rsp as a response to e, addressed to the node that sent
// e. The response is delivered back to the receiving node itself only if e
// permitted self delivery.
func (e *Event) Respond(ctx context.Context, rsp any) error {
	if e.node == nil {
		return errors.New("respond: event is not attached to a node")
	}
	return e.node.Respond(ctx, e, rsp, e.Self)
}

func (e *Event) String() string {
	re := value.Cond(e.Responding, fmt.Sprintf(", re=%v", e.RespondingTo), "")
	return fmt.Sprintf("Event(%s, id=%v, origin=%q%s)", e.Type, e.ID, e.Origin, re)
}
