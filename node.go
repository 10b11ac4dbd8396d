// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/chirpbus/catalog"
	"github.com/creachadair/chirpbus/packet"
	"github.com/creachadair/chirpbus/transport"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is reported by operations that require a transport when
	// the node has not been started.
	ErrNotStarted = errors.New("node is not started")

	// ErrClosed is reported by operations on a node after Cleanup.
	ErrClosed = errors.New("node is closed")
)

// Defaults for unset Options fields.
const (
	DefaultPrefix         = "chirp"
	DefaultReconnectDelay = 5 * time.Second
	DefaultSweepInterval  = 20 * time.Millisecond
	DefaultShutdownGrace  = time.Second
)

// Options are settings for a Node.
type Options struct {
	// Channel is the name of the channel shared by all the nodes of a
	// service. It must be non-empty.
	Channel string

	// Prefix is prepended to the names of transport channels.
	// If empty, DefaultPrefix is used.
	Prefix string

	// Origin identifies this node to others. If empty, a random identifier
	// is generated.
	Origin string

	// Format is the envelope encoding. If nil, packet.JSON is used.
	// All the nodes on a channel must use the same format.
	Format packet.Format

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zap.Logger

	// LogPackets, if true, logs every envelope sent or received at debug
	// level.
	LogPackets bool

	// ReconnectDelay is the time a failed subscription waits before it
	// retries. If zero, DefaultReconnectDelay is used.
	ReconnectDelay time.Duration

	// SweepInterval is the period at which expired callbacks are swept.
	// If zero, DefaultSweepInterval is used.
	SweepInterval time.Duration

	// ShutdownGrace bounds the time Cleanup waits for running handlers.
	// If zero, DefaultShutdownGrace is used.
	ShutdownGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Origin == "" {
		o.Origin = newOrigin()
	}
	if o.Format == nil {
		o.Format = packet.JSON
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	return o
}

// newOrigin returns a random 16-character hexadecimal origin ID.
func newOrigin() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] }

// A Node is a participant on a chirp channel. It publishes typed packets to
// the other nodes on the channel, delivers the packets it receives to
// registered listeners, and matches responses with the callbacks of the
// packets that requested them.
//
// Register packet types and listeners, call Start or Connect to attach a
// transport, and then call Subscribe to begin receiving. Cleanup shuts the
// node down; a node cannot be restarted after Cleanup.
//
// The methods of a Node are safe for concurrent use by multiple goroutines.
type Node struct {
	opts  Options
	log   *zap.Logger
	cat   *catalog.Catalog
	codec *packet.Codec
	lst   *listenerTable
	calls *correlator
	route *router

	μ      sync.Mutex
	tr     transport.Transport
	owned  bool // whether Cleanup closes tr
	ctx    context.Context
	stop   context.CancelFunc
	tasks  *taskgroup.Group
	subs   []*subscriber
	closed bool
}

// New constructs a new unstarted node with the given options.
func New(opts Options) (*Node, error) {
	if opts.Channel == "" {
		return nil, errors.New("new node: empty channel name")
	}
	opts = opts.withDefaults()
	cat := catalog.New()
	if err := packet.RegisterDefaults(cat); err != nil {
		return nil, fmt.Errorf("new node: %w", err)
	}
	log := opts.Logger.With(zap.String("origin", opts.Origin))
	n := &Node{
		opts:  opts,
		log:   log,
		cat:   cat,
		codec: packet.NewCodec(cat),
		lst:   new(listenerTable),
		calls: newCorrelator(log),
	}
	n.route = &router{log: log, lst: n.lst, calls: n.calls}
	return n, nil
}

// Origin returns the origin identifier of n.
func (n *Node) Origin() string { return n.opts.Origin }

// Channel returns the name of the shared channel of n.
func (n *Node) Channel() string { return n.opts.Channel }

// Catalog returns the type catalog of n.
func (n *Node) Catalog() *catalog.Catalog { return n.cat }

// Metrics returns a metrics map for the node. It is safe for the caller to
// add additional metrics to the map while the node is active.
func (n *Node) Metrics() *expvar.Map { return rootMetrics.emap }

// SharedChannel returns the transport channel shared by all nodes.
func (n *Node) SharedChannel() string { return n.opts.Prefix + ":" + n.opts.Channel }

// PrivateChannel returns the transport channel for packets addressed to the
// node with the given origin.
func (n *Node) PrivateChannel(origin string) string { return n.SharedChannel() + ":" + origin }

// RegisterPacket registers the types of the given packets. Each argument is
// a value of, or a pointer to, a struct type. Registering a type that is
// already registered has no effect.
func (n *Node) RegisterPacket(pkts ...any) error {
	for _, p := range pkts {
		if _, err := n.cat.RegisterPacket(reflect.TypeOf(p)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterPacketType registers T as a packet type of n.
func RegisterPacketType[T any](n *Node) error {
	_, err := n.cat.RegisterPacket(reflect.TypeFor[T]())
	return err
}

// RegisterConverter registers conv as the converter for the type key.
func (n *Node) RegisterConverter(key string, conv catalog.Converter) error {
	return n.cat.RegisterConverter(key, conv)
}

// RegisterListener adds l to the listeners of n. It reports an error if l is
// already registered.
func (n *Node) RegisterListener(l Listener) error {
	if n.isClosed() {
		return ErrClosed
	}
	return n.lst.add(l)
}

// RemoveListener removes l from the listeners of n, and reports whether it
// was registered.
func (n *Node) RemoveListener(l Listener) bool { return n.lst.remove(l) }

// PendingCallbacks reports the number of callbacks awaiting responses.
func (n *Node) PendingCallbacks() int { return n.calls.len() }

func (n *Node) isClosed() bool {
	n.μ.Lock()
	defer n.μ.Unlock()
	return n.closed
}

// Start attaches n to tr and starts its service routines. The caller retains
// ownership of tr, which is not closed by Cleanup. Start does not subscribe;
// call Subscribe to begin receiving packets.
func (n *Node) Start(tr transport.Transport) error { return n.start(tr, false) }

// Connect dials the Redis server at host and port and starts n on it,
// authenticating with password if it is non-empty. The connection is closed
// by Cleanup.
func (n *Node) Connect(ctx context.Context, host string, port int, password string) error {
	tr, err := transport.DialRedis(ctx, host, port, password)
	if err != nil {
		return err
	}
	if err := n.start(tr, true); err != nil {
		tr.Close()
		return err
	}
	return nil
}

func (n *Node) start(tr transport.Transport, owned bool) error {
	if tr == nil {
		return errors.New("start: nil transport")
	}
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.closed {
		return ErrClosed
	} else if n.tr != nil {
		return errors.New("start: node is already started")
	}
	n.tr, n.owned = tr, owned
	n.ctx, n.stop = context.WithCancel(context.WithValue(context.Background(), nodeContextKey{}, n))
	n.tasks = taskgroup.New(nil)
	n.tasks.Go(func() error {
		n.calls.run(n.ctx, n.opts.SweepInterval)
		return nil
	})
	n.log.Debug("node started", zap.String("channel", n.SharedChannel()))
	return nil
}

// Subscribe subscribes n to its shared and private channels. It blocks until
// both subscriptions are active or ctx ends. Once active, a subscription
// that fails is retried after the reconnect delay until the node is cleaned
// up. Calling Subscribe on a node that is already subscribed waits for the
// existing subscriptions.
func (n *Node) Subscribe(ctx context.Context) error {
	n.μ.Lock()
	if n.closed {
		n.μ.Unlock()
		return ErrClosed
	} else if n.tr == nil {
		n.μ.Unlock()
		return ErrNotStarted
	}
	if n.subs == nil {
		for _, ch := range []string{n.SharedChannel(), n.PrivateChannel(n.opts.Origin)} {
			s := newSubscriber(ch, n.tr, n.opts.ReconnectDelay, n.log, n.receive)
			n.subs = append(n.subs, s)
			n.tasks.Go(func() error { s.run(n.ctx); return nil })
		}
	}
	subs, nctx := n.subs, n.ctx
	n.μ.Unlock()

	for _, s := range subs {
		select {
		case <-s.ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-nctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// Subscriptions reports the current state of each channel subscription.
func (n *Node) Subscriptions() []SubscriptionInfo {
	n.μ.Lock()
	defer n.μ.Unlock()
	out := make([]SubscriptionInfo, len(n.subs))
	for i, s := range n.subs {
		out[i] = SubscriptionInfo{Channel: s.channel, State: s.State()}
	}
	return out
}

// PublishOptions are optional settings for Publish.
type PublishOptions struct {
	// Destination, if set, is the origin of the only node that should
	// receive the packet. By default the packet is sent to all nodes.
	Destination string

	// Self, if true, permits the packet to be delivered to the sending node
	// if it is subscribed to the destination.
	Self bool

	// Callback, if set, receives the responses to the packet.
	Callback *Callback
}

// Publish sends pkt to the nodes on the channel, and returns the ID assigned
// to it. The type of pkt must have been registered.
//
// Errors in pkt or opts are reported before anything is sent. A failure of
// the transport to deliver the packet is logged and not reported; if a
// callback was set, it will expire without a response.
func (n *Node) Publish(ctx context.Context, pkt any, opts *PublishOptions) (uuid.UUID, error) {
	if opts == nil {
		opts = new(PublishOptions)
	}
	channel := n.SharedChannel()
	if opts.Destination != "" {
		channel = n.PrivateChannel(opts.Destination)
	}
	id := uuid.New()
	err := n.send(ctx, channel, pkt, packet.Header{
		ID:     id,
		Origin: n.opts.Origin,
		Self:   opts.Self,
		Sent:   time.Now(),
	}, opts.Callback)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Respond sends rsp as a response to ev, addressed to the node that sent ev.
// If self is true, the response may also be delivered to n if n sent ev.
func (n *Node) Respond(ctx context.Context, ev *Event, rsp any, self bool) error {
	if ev == nil {
		return errors.New("respond: nil event")
	}
	return n.send(ctx, n.PrivateChannel(ev.Origin), rsp, packet.Header{
		ID:           uuid.New(),
		Origin:       n.opts.Origin,
		Responding:   true,
		RespondingTo: ev.ID,
		Self:         self,
		Sent:         time.Now(),
	}, nil)
}

func (n *Node) send(ctx context.Context, channel string, pkt any, h packet.Header, cb *Callback) error {
	n.μ.Lock()
	tr, closed := n.tr, n.closed
	n.μ.Unlock()
	if closed {
		return ErrClosed
	}

	env, err := n.codec.Encode(pkt, h)
	if err != nil {
		return err
	}
	data, err := n.opts.Format.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	if tr == nil {
		return ErrNotStarted
	}
	if cb != nil {
		if err := n.calls.register(h.ID, cb, time.Now()); err != nil {
			return err
		}
	}
	if n.opts.LogPackets {
		n.log.Debug("send", zap.String("channel", channel), zap.Stringer("envelope", env))
	}
	if err := tr.Publish(ctx, channel, string(data)); err != nil {
		rootMetrics.sendFailed.Add(1)
		n.log.Warn("publish failed", zap.String("channel", channel),
			zap.String("type", env.Type), zap.Stringer("id", h.ID), zap.Error(err))
		return nil
	}
	rootMetrics.packetSent.Add(1)
	return nil
}

// receive decodes and routes a message received from the transport.
// Malformed messages are logged and dropped.
func (n *Node) receive(ctx context.Context, msg *transport.Message) {
	rootMetrics.packetRecv.Add(1)
	env, err := n.opts.Format.Unmarshal([]byte(msg.Payload))
	if err != nil {
		rootMetrics.packetDropped.Add(1)
		n.log.Warn("dropped malformed message", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if !env.Self && env.Origin == n.opts.Origin {
		rootMetrics.echoDropped.Add(1)
		return
	}
	if n.opts.LogPackets {
		n.log.Debug("recv", zap.String("channel", msg.Channel), zap.Stringer("envelope", env))
	}
	pkt, err := n.codec.Decode(env)
	if err != nil {
		rootMetrics.packetDropped.Add(1)
		n.log.Warn("dropped undecodable packet", zap.String("type", env.Type),
			zap.Stringer("id", env.PacketID), zap.String("origin", env.Origin), zap.Error(err))
		return
	}
	h := env.Header()
	n.route.route(ctx, &Event{
		ID:           h.ID,
		Type:         env.Type,
		Packet:       pkt,
		Origin:       h.Origin,
		Responding:   h.Responding,
		RespondingTo: h.RespondingTo,
		Self:         h.Self,
		Sent:         h.Sent,
		Received:     time.Now(),
		node:         n,
	})
}

// Cleanup shuts down n. It stops the subscriptions, waits up to the shutdown
// grace period for running handlers to finish, discards all registrations
// and pending callbacks without firing them, and closes the transport if n
// owns it. Calling Cleanup more than once is harmless.
//
// Tables are cleared when the grace period ends even if a handler is still
// running. Such a handler can no longer send: its calls fail with ErrClosed.
func (n *Node) Cleanup() error {
	n.μ.Lock()
	if n.closed {
		n.μ.Unlock()
		return nil
	}
	n.closed = true
	tr, owned, stop, tasks := n.tr, n.owned, n.stop, n.tasks
	n.tr = nil
	n.μ.Unlock()

	if stop != nil {
		stop()
	}
	if tasks != nil {
		done := make(chan struct{})
		go func() { defer close(done); tasks.Wait() }()
		t := time.NewTimer(n.opts.ShutdownGrace)
		select {
		case <-done:
			t.Stop()
		case <-t.C:
			n.log.Warn("shutdown grace period elapsed with handlers still running",
				zap.Duration("grace", n.opts.ShutdownGrace))
		}
	}

	n.calls.clear()
	n.lst.clear()
	n.cat.Clear()

	var err error
	if owned && tr != nil {
		err = tr.Close()
	}
	n.log.Debug("node stopped")
	return err
}

type nodeContextKey struct{}

// ContextNode returns the Node associated with the given context, or nil if
// none is defined. The context passed to a Handler has this value.
func ContextNode(ctx context.Context) *Node {
	if v := ctx.Value(nodeContextKey{}); v != nil {
		return v.(*Node)
	}
	return nil
}
