// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package packet provides support for encoding and decoding packet envelopes.
//
// An [Envelope] is the unit exchanged on the wire. It carries the logical
// type name of a packet, routing and correlation metadata, and the encoded
// fields of the packet. A [Codec] converts between packet values and
// envelopes using the schemas and converters of a [catalog.Catalog], and a
// [Format] converts between envelopes and bytes.
package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// An Envelope is the wire form of a packet.
type Envelope struct {
	PacketID     uuid.UUID      `json:"packetId"`
	Type         string         `json:"type"`
	Origin       string         `json:"origin"`
	Responding   bool           `json:"responding"`
	RespondingTo *uuid.UUID     `json:"respondingTo,omitempty"` // set iff Responding
	Self         bool           `json:"self"`
	Sent         int64          `json:"sent"` // Unix milliseconds
	Data         map[string]any `json:"data"`
}

// A Header carries the metadata for an envelope.
type Header struct {
	ID           uuid.UUID // correlation ID, fresh for each message
	Origin       string    // origin of the sender
	Responding   bool      // whether this is a response
	RespondingTo uuid.UUID // the request ID, if Responding
	Self         bool      // whether the sender wants its own echo
	Sent         time.Time // when the message was sent
}

// SentTime reports the send time of e.
func (e *Envelope) SentTime() time.Time { return time.UnixMilli(e.Sent) }

// Header returns the metadata of e.
func (e *Envelope) Header() Header {
	h := Header{
		ID:         e.PacketID,
		Origin:     e.Origin,
		Responding: e.Responding,
		Self:       e.Self,
		Sent:       e.SentTime(),
	}
	if e.RespondingTo != nil {
		h.RespondingTo = *e.RespondingTo
	}
	return h
}

// Validate reports an error if e is not a well-formed envelope.
func (e *Envelope) Validate() error {
	switch {
	case e.PacketID == uuid.Nil:
		return errors.New("missing packet ID")
	case e.Type == "":
		return errors.New("missing packet type")
	case e.Responding && e.RespondingTo == nil:
		return errors.New("response without a request ID")
	case !e.Responding && e.RespondingTo != nil:
		return errors.New("request ID on a non-response")
	}
	return nil
}

func (e *Envelope) String() string {
	if e.Responding && e.RespondingTo != nil {
		return fmt.Sprintf("%s[%s from %q, re %s]", e.Type, e.PacketID, e.Origin, *e.RespondingTo)
	}
	return fmt.Sprintf("%s[%s from %q]", e.Type, e.PacketID, e.Origin)
}
