// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/creachadair/chirpbus/packet"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultRedisPort is the port used for a Redis address that omits one.
const DefaultRedisPort = 6379

// Config is the file representation of node settings.
//
// Example:
//
//	channel: orders
//	prefix: chirp
//	format: json
//	redis:
//	  address: localhost:6379
//	  password: hunter2
//	reconnect_delay: 5s
//	log_packets: true
type Config struct {
	Channel        string        `yaml:"channel"`
	Prefix         string        `yaml:"prefix,omitempty"`
	Origin         string        `yaml:"origin,omitempty"`
	Format         string        `yaml:"format,omitempty"`
	Redis          RedisConfig   `yaml:"redis"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay,omitempty"`
	SweepInterval  time.Duration `yaml:"sweep_interval,omitempty"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace,omitempty"`
	LogPackets     bool          `yaml:"log_packets,omitempty"`
}

// RedisConfig gives the location and credentials of a Redis server.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
}

// ParseConfig parses a YAML configuration from data. Unknown keys are
// reported as errors.
func ParseConfig(data []byte) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// Options converts c to node options that log to log.
func (c *Config) Options(log *zap.Logger) (Options, error) {
	f, err := packet.FormatByName(c.Format)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Channel:        c.Channel,
		Prefix:         c.Prefix,
		Origin:         c.Origin,
		Format:         f,
		Logger:         log,
		LogPackets:     c.LogPackets,
		ReconnectDelay: c.ReconnectDelay,
		SweepInterval:  c.SweepInterval,
		ShutdownGrace:  c.ShutdownGrace,
	}, nil
}

// ParseAddress splits a Redis address of the form host[:port] into its host
// and port. If the port is omitted, DefaultRedisPort is used; if the host is
// omitted, "localhost" is used.
func ParseAddress(s string) (host string, port int, err error) {
	host, ps, err := net.SplitHostPort(s)
	if err != nil {
		// No port: treat the whole string as a host.
		host, ps = s, ""
	}
	if host == "" {
		host = "localhost"
	}
	if ps == "" {
		return host, DefaultRedisPort, nil
	}
	port, err = strconv.Atoi(ps)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q in address %q", ps, s)
	}
	return host, port, nil
}
