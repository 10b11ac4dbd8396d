// Program chirp is a command-line utility for exchanging packets with the
// nodes on a chirpbus channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/chirpbus"
	"github.com/creachadair/chirpbus/handler"
	"github.com/creachadair/chirpbus/request"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"go.uber.org/zap"
)

var flags struct {
	Config    string        `flag:"config,Path of a YAML configuration file"`
	Address   string        `flag:"addr,Redis server address (host:port)"`
	Password  string        `flag:"password,Redis password"`
	Channel   string        `flag:"channel,Channel name"`
	Format    string        `flag:"format,Envelope format (json or cbor)"`
	LogLevel  string        `flag:"log-level,default=info,Log level (debug, info, warn, error)"`
	LogFormat string        `flag:"log-format,default=console,Log format (console or json)"`
	Wait      time.Duration `flag:"wait,default=1s,Time to wait for responses"`
	Self      bool          `flag:"self,Deliver packets to this node as well"`
}

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "[flags] <command> [args]",
		Help:  "Utilities for exchanging packets on a chirpbus channel.",

		SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &flags) },

		Commands: []*command.C{
			{
				Name: "listen",
				Help: `Subscribe to the channel and print the packets received.

The listener answers each ping with a pong, and runs until interrupted.`,
				Run: runListen,
			},
			{
				Name:  "publish",
				Usage: "<text>...",
				Help:  "Publish a message to the nodes on the channel.",
				Run:   runPublish,
			},
			{
				Name:  "ping",
				Usage: "[destination]",
				Help: `Ping the nodes on the channel and report the responses.

If a destination origin is given, only that node is pinged.`,
				Run: runPing,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// Message is a text message for the nodes on a channel.
type Message struct {
	Text string
	Tags []string
}

// Ping asks the receiving nodes to respond with a Pong.
type Ping struct{ Seq int }

// Pong is the response to a Ping.
type Pong struct {
	Seq  int
	Host string
}

// settings merges the configuration file, if any, with flag overrides.
func settings() (*chirpbus.Config, error) {
	cfg := new(chirpbus.Config)
	if flags.Config != "" {
		c, err := chirpbus.LoadConfig(flags.Config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{flags.Address, &cfg.Redis.Address},
		{flags.Password, &cfg.Redis.Password},
		{flags.Channel, &cfg.Channel},
		{flags.Format, &cfg.Format},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	if cfg.Channel == "" {
		return nil, errors.New("no channel name (set -channel or a config file)")
	}
	return cfg, nil
}

// connect constructs a node from the settings, registers the command packet
// types and any listeners, and connects it to Redis.
func connect(ctx context.Context, ls ...chirpbus.Listener) (*chirpbus.Node, *zap.Logger, error) {
	cfg, err := settings()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.Options(log)
	if err != nil {
		return nil, nil, err
	}
	n, err := chirpbus.New(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := n.RegisterPacket(Message{}, Ping{}, Pong{}); err != nil {
		return nil, nil, err
	}
	for _, l := range ls {
		if err := n.RegisterListener(l); err != nil {
			return nil, nil, err
		}
	}
	host, port, err := chirpbus.ParseAddress(cfg.Redis.Address)
	if err != nil {
		return nil, nil, err
	}
	if err := n.Connect(ctx, host, port, cfg.Redis.Password); err != nil {
		return nil, nil, err
	}
	log.Debug("connected", zap.String("host", host), zap.Int("port", port),
		zap.String("channel", n.SharedChannel()), zap.String("origin", n.Origin()))
	return n, log, nil
}

func runListen(env *command.Env) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	hostname, _ := os.Hostname()
	n, log, err := connect(ctx, chirpbus.Listen(
		chirpbus.Handle(func(_ context.Context, ev *chirpbus.Event, m *Message) error {
			fmt.Printf("%s %s: %s\n", ev.Sent.Format(time.TimeOnly), ev.Origin, m.Text)
			return nil
		}),
		handler.ParamResult(func(ctx context.Context, p *Ping) Pong {
			ev := handler.ContextEvent(ctx)
			fmt.Printf("%s ping %d from %s\n", ev.Sent.Format(time.TimeOnly), p.Seq, ev.Origin)
			return Pong{Seq: p.Seq, Host: hostname}
		}),
	))
	if err != nil {
		return err
	}
	defer n.Cleanup()
	defer log.Sync()

	if err := n.Subscribe(ctx); err != nil {
		return err
	}
	log.Info("listening", zap.String("channel", n.SharedChannel()), zap.String("origin", n.Origin()))
	<-ctx.Done()
	return nil
}

func runPublish(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing message text")
	}
	ctx := context.Background()
	n, log, err := connect(ctx)
	if err != nil {
		return err
	}
	defer n.Cleanup()
	defer log.Sync()

	id, err := n.Publish(ctx, Message{Text: strings.Join(env.Args, " ")}, &chirpbus.PublishOptions{
		Self: flags.Self,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runPing(env *command.Env) error {
	if len(env.Args) > 1 {
		return env.Usagef("extra arguments after destination: %q", env.Args[1:])
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	n, log, err := connect(ctx)
	if err != nil {
		return err
	}
	defer n.Cleanup()
	defer log.Sync()

	// Responses arrive on the private channel of this node.
	if err := n.Subscribe(ctx); err != nil {
		return err
	}
	opts := &request.Options{TTL: flags.Wait, Self: flags.Self}
	if len(env.Args) == 1 {
		opts.Destination = env.Args[0]
	}
	evs, err := request.Gather[*Pong](ctx, n, Ping{Seq: 1}, 0, opts)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return errors.New("no responses")
	}
	for _, ev := range evs {
		p := ev.Packet.(*Pong)
		fmt.Printf("%-16s %-20s %v\n", ev.Origin, p.Host, ev.Latency().Round(time.Millisecond))
	}
	return nil
}
