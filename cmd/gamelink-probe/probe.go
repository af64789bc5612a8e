package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamelink-protocol/gamelink-go/pkg/connection"
	"github.com/gamelink-protocol/gamelink-go/pkg/log"
	"github.com/gamelink-protocol/gamelink-go/pkg/multicast"
	"github.com/gamelink-protocol/gamelink-go/pkg/transport"
)

// errQuit is returned by Execute for the quit command.
var errQuit = errors.New("quit")

// Probe drives one TLS client and one multicast listener and prints what
// they receive.
type Probe struct {
	cfg    Config
	logger *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	client   *transport.Client
	manager  *connection.Manager
	listener *multicast.Listener

	closeOnce sync.Once
}

// NewProbe builds the client and listener described by cfg. Nothing is
// connected until Run.
func NewProbe(cfg Config, out io.Writer, logger *slog.Logger, proto log.Logger) (*Probe, error) {
	p := &Probe{cfg: cfg, out: out, logger: logger}

	if cfg.Server.Address != "" {
		cc, err := cfg.Server.clientConfig()
		if err != nil {
			return nil, err
		}
		cc.Logger = proto
		cc.Handler = transport.HandlerFuncs{
			Handshaked: func() {
				p.printf("* connected to %s\n", cfg.Server.Address)
			},
			Received: func(data []byte) {
				p.printf("< tls %d bytes: %s\n", len(data), strconv.Quote(string(data)))
			},
			Disconnected: func() {
				p.printf("* disconnected from %s\n", cfg.Server.Address)
				p.manager.NotifyConnectionLost()
			},
			Error: func(err error) {
				p.logger.Warn("tls error", "err", err)
			},
		}
		client, err := transport.NewClient(cc)
		if err != nil {
			return nil, err
		}
		p.client = client

		p.manager = connection.NewManager(p.connectServer,
			connection.WithBackoff(cfg.Server.backoff()),
			connection.WithAutoReconnect(cfg.Server.AutoReconnect),
		)
		p.manager.OnReconnecting(func(attempt int, delay time.Duration) {
			p.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		})
		p.manager.OnAttemptError(func(attempt int, err error) {
			p.logger.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
		})
	}

	if cfg.Multicast.Address != "" {
		lc, err := cfg.Multicast.listenerConfig()
		if err != nil {
			return nil, err
		}
		lc.Logger = proto
		lc.OnError = func(err error) {
			p.logger.Warn("multicast error", "err", err)
		}
		listener, err := multicast.NewListener(lc)
		if err != nil {
			return nil, err
		}
		p.listener = listener
	}

	return p, nil
}

// connectServer is the reconnect manager's attempt function.
func (p *Probe) connectServer(ctx context.Context) error {
	err := p.client.Connect(ctx)
	if errors.Is(err, transport.ErrAlreadyConnected) && p.client.IsHandshaked() {
		return nil
	}
	return err
}

// Run connects everything and blocks until ctx is done, then closes the
// client and listener.
func (p *Probe) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if p.manager != nil {
		g.Go(func() error {
			p.manager.StartReconnectLoop()
			if err := p.manager.Connect(ctx); err != nil {
				if !p.cfg.Server.AutoReconnect {
					return fmt.Errorf("connect %s: %w", p.cfg.Server.Address, err)
				}
				p.logger.Warn("connect failed, retrying", "addr", p.cfg.Server.Address, "err", err)
			}
			return nil
		})
	}

	if p.listener != nil {
		g.Go(func() error {
			if err := p.listener.Open(ctx); err != nil {
				p.logger.Warn("multicast bind failed, retrying", "addr", p.cfg.Multicast.Address, "err", err)
			}
			for d := range p.listener.Payloads() {
				p.printf("< %s from %s %d bytes: %s\n", p.cfg.Multicast.Address, d.From, len(d.Data), strconv.Quote(string(d.Data)))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		p.Close()
		return nil
	})

	return g.Wait()
}

// Close disconnects the client and closes the listener. It is idempotent.
func (p *Probe) Close() {
	p.closeOnce.Do(func() {
		if p.manager != nil {
			p.manager.Close()
		}
		if p.client != nil {
			_ = p.client.Close()
		}
		if p.listener != nil {
			_ = p.listener.Close()
		}
	})
}

// Execute runs one console command line.
func (p *Probe) Execute(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		p.printHelp()
		return nil
	case "send", "s":
		return p.cmdSend(rest, false)
	case "sendsync", "ss":
		return p.cmdSend(rest, true)
	case "reconnect":
		return p.cmdReconnect(ctx)
	case "stats":
		p.cmdStats()
		return nil
	case "join":
		return p.cmdGroup(rest, true)
	case "leave":
		return p.cmdGroup(rest, false)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (p *Probe) printHelp() {
	p.printf(`
Probe Commands:
  TLS server:
    send <text>      - Queue text for asynchronous send
    sendsync <text>  - Send text and wait until written
    reconnect        - Drop and re-establish the TLS session

  Multicast:
    join <group>     - Join an additional group on the listener socket
    leave <group>    - Leave a group

  General:
    stats            - Show counters and states
    help             - Show this help
    quit             - Exit
`)
}

func (p *Probe) cmdSend(text string, wait bool) error {
	if p.client == nil {
		return errors.New("no server configured")
	}
	if text == "" {
		return errors.New("usage: send <text>")
	}
	payload := []byte(text + "\n")

	if wait {
		n, err := p.client.Send(payload)
		if err != nil {
			return err
		}
		p.printf("> tls %d bytes\n", n)
		return nil
	}
	if !p.client.SendAsync(payload) {
		return transport.ErrNotHandshaked
	}
	p.printf("> tls %d bytes queued\n", len(payload))
	return nil
}

func (p *Probe) cmdReconnect(ctx context.Context) error {
	if p.client == nil {
		return errors.New("no server configured")
	}
	p.client.Disconnect()
	if p.cfg.Server.AutoReconnect {
		// The disconnect notification hands the session to the retry loop.
		return nil
	}
	return p.manager.Connect(ctx)
}

func (p *Probe) cmdGroup(group string, join bool) error {
	if p.listener == nil {
		return errors.New("no multicast listener configured")
	}
	if group == "" {
		return errors.New("usage: join|leave <group>")
	}
	if join {
		return p.listener.JoinGroup(group)
	}
	return p.listener.LeaveGroup(group)
}

func (p *Probe) cmdStats() {
	if p.client != nil {
		s := p.client.Stats()
		p.printf("TLS %s\n", p.cfg.Server.Address)
		p.printf("  State:      %s (manager %s, retries %d)\n", p.client.State(), p.manager.State(), p.manager.BackoffAttempts())
		p.printf("  Session:    %s\n", orNone(p.client.ID()))
		p.printf("  Sent:       %d bytes (%d pending, %d sending)\n", s.BytesSent, s.BytesPending, s.BytesSending)
		p.printf("  Received:   %d bytes (buffer %d)\n", s.BytesReceived, s.ReceiveBufferSize)
	}
	if p.listener != nil {
		p.printf("Multicast %s\n", p.cfg.Multicast.Address)
		p.printf("  Bound:      %t\n", p.listener.IsBound())
		p.printf("  Received:   %d datagrams\n", p.listener.Received())
		p.printf("  Reconnects: %d\n", p.listener.Reconnects())
	}
}

func (p *Probe) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
