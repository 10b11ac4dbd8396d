// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis is a Transport backed by Redis pub/sub.
type Redis struct {
	rdb *redis.Client
}

// NewRedis constructs a Transport that uses the given Redis client.  Closing
// the transport closes the client.
func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// DialRedis connects to the Redis server at host and port, authenticating
// with password if it is non-empty. It verifies the connection with a PING
// before returning.
func DialRedis(ctx context.Context, host string, port int, password string) (*Redis, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return NewRedis(rdb), nil
}

// Client returns the underlying Redis client.
func (r *Redis) Client() *redis.Client { return r.rdb }

// Publish implements a method of the [Transport] interface.
func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe implements a method of the [Transport] interface.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channel)

	// Wait for the server to confirm the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %q: %w", channel, err)
	}
	return redisSub{ps: ps}, nil
}

// Close implements a method of the [Transport] interface.
func (r *Redis) Close() error { return r.rdb.Close() }

type redisSub struct {
	ps *redis.PubSub
}

// Recv implements a method of the [Subscription] interface.
func (s redisSub) Recv(ctx context.Context) (*Message, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{Channel: msg.Channel, Payload: msg.Payload}, nil
}

// Close implements a method of the [Subscription] interface.
func (s redisSub) Close() error { return s.ps.Close() }
