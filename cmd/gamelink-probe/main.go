// Command gamelink-probe exercises a game server's transports by hand.
//
// It connects a TLS client to a server, listens on a multicast (or
// broadcast) group, prints every payload received and offers an
// interactive prompt for sending payloads and inspecting counters.
//
// Usage:
//
//	gamelink-probe [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-addr string          TLS server address (host:port)
//	-multicast string     Multicast or broadcast group (ip:port)
//	-ca string            PEM file of trusted CA certificates
//	-cert string          PEM client certificate
//	-key string           PEM client private key
//	-insecure             Skip server certificate verification
//	-protocol-log string  Capture file for transport events (CBOR)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-auto-reconnect       Reconnect the TLS session when it drops (default true)
//	-no-console           Print payloads only, without the interactive prompt
//
// Examples:
//
//	# Talk to a server with a private CA
//	gamelink-probe -addr game.example:8443 -ca ca.pem
//
//	# Watch the draw broadcast and capture everything
//	gamelink-probe -multicast 239.1.2.3:5000 -protocol-log probe.glog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gamelink-protocol/gamelink-go/pkg/log"
)

type flags struct {
	config        string
	addr          string
	multicast     string
	ca            string
	cert          string
	key           string
	insecure      bool
	protocolLog   string
	logLevel      string
	autoReconnect bool
	noConsole     bool
}

func (f *flags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "YAML configuration file")
	fs.StringVar(&f.addr, "addr", "", "TLS server address (host:port)")
	fs.StringVar(&f.multicast, "multicast", "", "Multicast or broadcast group (ip:port)")
	fs.StringVar(&f.ca, "ca", "", "PEM file of trusted CA certificates")
	fs.StringVar(&f.cert, "cert", "", "PEM client certificate")
	fs.StringVar(&f.key, "key", "", "PEM client private key")
	fs.BoolVar(&f.insecure, "insecure", false, "Skip server certificate verification")
	fs.StringVar(&f.protocolLog, "protocol-log", "", "Capture file for transport events (CBOR)")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.autoReconnect, "auto-reconnect", true, "Reconnect the TLS session when it drops")
	fs.BoolVar(&f.noConsole, "no-console", false, "Print payloads only, without the interactive prompt")
}

// apply overlays the flags that were set explicitly on cfg.
func (f *flags) apply(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Server.Address = f.addr
		case "multicast":
			cfg.Multicast.Address = f.multicast
		case "ca":
			cfg.Server.CA = f.ca
		case "cert":
			cfg.Server.Cert = f.cert
		case "key":
			cfg.Server.Key = f.key
		case "insecure":
			cfg.Server.Insecure = f.insecure
		case "protocol-log":
			cfg.ProtocolLog = f.protocolLog
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "auto-reconnect":
			cfg.Server.AutoReconnect = f.autoReconnect
		}
	})
}

// loadConfig reads the config file (if any) and overlays the flags.
func loadConfig(fs *flag.FlagSet, f *flags) (Config, error) {
	cfg := DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}
	f.apply(fs, &cfg)
	return cfg, cfg.Validate()
}

// protocolLogger builds the transport event sink: the capture file when
// configured, plus slog output at debug level.
func protocolLogger(cfg Config, logger *slog.Logger) (log.Logger, io.Closer, error) {
	loggers := []log.Logger{log.NewSlogAdapter(logger)}
	var closer io.Closer = nopCloser{}
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fl)
		closer = fl
	}
	return log.NewMultiLogger(loggers...), closer, nil
}

func main() {
	var f flags
	fs := flag.NewFlagSet("gamelink-probe", flag.ExitOnError)
	f.register(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(fs, &f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, f.noConsole); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config, noConsole bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		out     io.Writer = os.Stdout
		errOut  io.Writer = os.Stderr
		console *Console
	)
	level, _ := parseLevel(cfg.LogLevel)

	// The probe and the console reference each other through the writers,
	// so the console is created first with a late-bound commander.
	var probe *Probe
	if !noConsole {
		var err error
		console, err = NewConsole(commanderFunc(func(ctx context.Context, line string) error {
			return probe.Execute(ctx, line)
		}))
		if err != nil {
			return err
		}
		out, errOut = console.Stdout(), console.Stderr()
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	proto, closer, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	probe, err = NewProbe(cfg, out, logger, proto)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	g.Go(func() error {
		defer cancel()
		return probe.Run(runCtx)
	})
	if console != nil {
		g.Go(func() error {
			defer cancel()
			return console.Run(runCtx)
		})
	}
	return g.Wait()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// commanderFunc adapts a function to the commander interface.
type commanderFunc func(ctx context.Context, line string) error

func (f commanderFunc) Execute(ctx context.Context, line string) error { return f(ctx, line) }
