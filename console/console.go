// Package console is the terminal front-end: a readline prompt, a spinner
// while the model thinks and Ctrl+C to stop a reply.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"

	"github.com/becomeliminal/nim-recall/core"
)

// LineReader reads one line of user input. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements core.Frontend on a terminal.
type Console struct {
	rl         LineReader
	out        io.Writer
	spin       *spinner.Spinner
	interrupts <-chan struct{}

	mu       sync.Mutex
	spinning bool
	wrote    bool
}

var _ core.Frontend = (*Console)(nil)

// Option configures the console.
type Option func(*Console)

// WithInterrupts sets the channel that stops the reply in flight, usually
// fed by SIGINT.
func WithInterrupts(ch <-chan struct{}) Option {
	return func(c *Console) {
		c.interrupts = ch
	}
}

// NewReadline opens a readline prompt on the terminal. historyFile may be
// empty.
func NewReadline(historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// New creates a console reading from rl and writing replies to out.
func New(rl LineReader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		rl:   rl,
		out:  out,
		spin: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interrupts == nil {
		c.interrupts = make(chan struct{})
	}
	c.spin.Suffix = " thinking..."
	return c
}

// WaitReady implements core.Frontend.
func (c *Console) WaitReady(context.Context) error {
	fmt.Fprintln(c.out, "Chat session started. Type 'exit' to quit, Ctrl+C stops a reply.")
	return nil
}

// ReadInput implements core.Frontend. "exit", "quit", Ctrl+D and Ctrl+C on
// an empty line end the session.
func (c *Console) ReadInput(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := c.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				return "", io.EOF
			}
			continue
		case err != nil:
			return "", err
		}

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return "", io.EOF
		}
		return line, nil
	}
}

// EmitChunk implements core.Frontend.
func (c *Console) EmitChunk(chunk string, done bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopSpinnerLocked()
	if done {
		if c.wrote {
			fmt.Fprintln(c.out)
		}
		c.wrote = false
		return nil
	}
	if chunk != "" {
		c.wrote = true
		_, err := io.WriteString(c.out, chunk)
		return err
	}
	return nil
}

// EmitState implements core.Frontend.
func (c *Console) EmitState(state core.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch state {
	case core.StateRunning:
		c.wrote = false
		c.spin.Start()
		c.spinning = true
	case core.StateIdle:
		c.stopSpinnerLocked()
	}
	return nil
}

// Cancellation implements core.Frontend.
func (c *Console) Cancellation() <-chan struct{} {
	return c.interrupts
}

// Close releases the line reader.
func (c *Console) Close() error {
	c.mu.Lock()
	c.stopSpinnerLocked()
	c.mu.Unlock()
	return c.rl.Close()
}

func (c *Console) stopSpinnerLocked() {
	if c.spinning {
		c.spin.Stop()
		c.spinning = false
	}
}
