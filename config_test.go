// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chirpbus_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/packet"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func TestParseConfig(t *testing.T) {
	const input = `
channel: orders
prefix: svc
format: cbor
redis:
  address: cache.local:6380
  password: hunter2
reconnect_delay: 2s
sweep_interval: 50ms
log_packets: true
`
	cfg, err := chirpbus.ParseConfig([]byte(input))
	if err != nil {
		t.Fatalf("ParseConfig: unexpected error: %v", err)
	}
	want := &chirpbus.Config{
		Channel: "orders",
		Prefix:  "svc",
		Format:  "cbor",
		Redis: chirpbus.RedisConfig{
			Address:  "cache.local:6380",
			Password: "hunter2",
		},
		ReconnectDelay: 2 * time.Second,
		SweepInterval:  50 * time.Millisecond,
		LogPackets:     true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Config (-want, +got):\n%s", diff)
	}

	log := zap.NewNop()
	opts, err := cfg.Options(log)
	if err != nil {
		t.Fatalf("Options: unexpected error: %v", err)
	}
	if opts.Channel != "orders" || opts.Prefix != "svc" || opts.Format.Name() != packet.CBOR.Name() ||
		opts.ReconnectDelay != 2*time.Second || !opts.LogPackets || opts.Logger != log {
		t.Errorf("Options: got %+v", opts)
	}

	t.Run("Empty", func(t *testing.T) {
		cfg, err := chirpbus.ParseConfig(nil)
		if err != nil {
			t.Fatalf("ParseConfig: unexpected error: %v", err)
		}
		if diff := cmp.Diff(&chirpbus.Config{}, cfg); diff != "" {
			t.Errorf("Config (-want, +got):\n%s", diff)
		}
	})
	t.Run("UnknownField", func(t *testing.T) {
		if cfg, err := chirpbus.ParseConfig([]byte("channel: x\nchanel: y\n")); err == nil {
			t.Errorf("ParseConfig: got %+v, want error", cfg)
		}
	})
	t.Run("BadFormat", func(t *testing.T) {
		cfg := &chirpbus.Config{Channel: "x", Format: "xml"}
		if opts, err := cfg.Options(nil); err == nil {
			t.Errorf("Options: got %+v, want error", opts)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("channel: files\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := chirpbus.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: unexpected error: %v", err)
	}
	if cfg.Channel != "files" {
		t.Errorf("Channel: got %q, want files", cfg.Channel)
	}
	if _, err := chirpbus.LoadConfig(path + ".missing"); !os.IsNotExist(err) {
		t.Errorf("LoadConfig missing: got %v, want not-exist", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input string
		host  string
		port  int
		fail  bool
	}{
		{"", "localhost", chirpbus.DefaultRedisPort, false},
		{"redis", "redis", chirpbus.DefaultRedisPort, false},
		{"redis:7000", "redis", 7000, false},
		{":7000", "localhost", 7000, false},
		{"[::1]:6380", "::1", 6380, false},
		{"::1", "::1", chirpbus.DefaultRedisPort, false},
		{"redis:http", "", 0, true},
		{"redis:0", "", 0, true},
		{"redis:99999", "", 0, true},
	}
	for _, tc := range tests {
		host, port, err := chirpbus.ParseAddress(tc.input)
		if tc.fail {
			if err == nil {
				t.Errorf("ParseAddress(%q): got (%q, %d), want error", tc.input, host, port)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q): unexpected error: %v", tc.input, err)
		} else if host != tc.host || port != tc.port {
			t.Errorf("ParseAddress(%q): got (%q, %d), want (%q, %d)", tc.input, host, port, tc.host, tc.port)
		}
	}
}
