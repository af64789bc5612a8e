package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
)

// commander executes console lines.
type commander interface {
	Execute(ctx context.Context, line string) error
}

// Console is the interactive prompt.
type Console struct {
	rl  *readline.Instance
	cmd commander
}

// NewConsole creates a readline prompt that feeds lines to cmd.
func NewConsole(cmd commander) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("send"),
			readline.PcItem("sendsync"),
			readline.PcItem("reconnect"),
			readline.PcItem("stats"),
			readline.PcItem("join"),
			readline.PcItem("leave"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, cmd: cmd}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer { return c.rl.Stdout() }

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer { return c.rl.Stderr() }

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	// Readline blocks; closing it unblocks the loop on shutdown.
	stop := context.AfterFunc(ctx, func() { c.rl.Close() })
	defer func() {
		if stop() {
			c.rl.Close()
		}
	}()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			// EOF, or closed by shutdown
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := c.cmd.Execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(c.rl.Stdout(), "Exiting...")
				return nil
			}
			fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		}
	}
}
