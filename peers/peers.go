// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for running and testing groups of
// nodes.
package peers

import (
	"context"
	"errors"
	"fmt"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/transport"
	"github.com/creachadair/taskgroup"
)

// LocalChannel is the default channel name for local clusters.
const LocalChannel = "local"

// A Cluster is a group of subscribed nodes sharing an in-memory transport,
// suitable for testing.
type Cluster struct {
	Transport *transport.Memory
	Nodes     []*chirpbus.Node
}

// NewCluster creates and subscribes n nodes on a new in-memory transport.
//
// Each node is constructed with a copy of opts. If opts.Channel is empty,
// LocalChannel is used. If opts.Origin is set, node i gets the origin
// opts.Origin followed by i; otherwise origins are random.
//
// If setup != nil, it is called for each node after construction and before
// the node is started, to register packet types and listeners.
func NewCluster(ctx context.Context, n int, opts chirpbus.Options, setup func(i int, node *chirpbus.Node) error) (*Cluster, error) {
	if opts.Channel == "" {
		opts.Channel = LocalChannel
	}
	c := &Cluster{Transport: transport.NewMemory()}
	for i := range n {
		nopts := opts
		if opts.Origin != "" {
			nopts.Origin = fmt.Sprint(opts.Origin, i)
		}
		node, err := chirpbus.New(nopts)
		if err != nil {
			c.Stop()
			return nil, err
		}
		c.Nodes = append(c.Nodes, node)
		if setup != nil {
			if err := setup(i, node); err != nil {
				c.Stop()
				return nil, fmt.Errorf("setup node %d: %w", i, err)
			}
		}
		if err := node.Start(c.Transport); err != nil {
			c.Stop()
			return nil, err
		}
	}

	// Subscribe all the nodes concurrently, so that a cluster with a long
	// reconnect delay starts promptly.
	g := taskgroup.New(nil)
	for _, node := range c.Nodes {
		g.Go(func() error { return node.Subscribe(ctx) })
	}
	if err := g.Wait(); err != nil {
		c.Stop()
		return nil, err
	}
	return c, nil
}

// Stop cleans up all the nodes and closes the transport.
func (c *Cluster) Stop() error {
	var errs []error
	for _, node := range c.Nodes {
		errs = append(errs, node.Cleanup())
	}
	if err := c.Transport.Close(); !transport.IsClosed(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Local is a pair of subscribed nodes sharing an in-memory transport.
type Local struct {
	*Cluster
	A *chirpbus.Node
	B *chirpbus.Node
}

// NewLocal creates a pair of nodes on a new in-memory transport, calling
// setup for each as described for NewCluster. The origins of the nodes are
// "local-0" and "local-1".
func NewLocal(ctx context.Context, setup func(node *chirpbus.Node) error) (*Local, error) {
	var s func(int, *chirpbus.Node) error
	if setup != nil {
		s = func(_ int, node *chirpbus.Node) error { return setup(node) }
	}
	c, err := NewCluster(ctx, 2, chirpbus.Options{Channel: LocalChannel, Origin: "local-"}, s)
	if err != nil {
		return nil, err
	}
	return &Local{Cluster: c, A: c.Nodes[0], B: c.Nodes[1]}, nil
}
