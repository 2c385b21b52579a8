package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
)

// Serve runs turns for sessionID with input from fe until fe reports
// io.EOF or ctx is cancelled. A cancellation signal from fe stops only the
// reply in flight.
func (e *Engine) Serve(ctx context.Context, sessionID string, fe core.Frontend) error {
	if err := fe.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait for frontend: %w", err)
	}
	logger := e.logger.With("session", sessionID)

	for {
		if err := fe.EmitState(core.StateReady); err != nil {
			return fmt.Errorf("emit state: %w", err)
		}

		text, err := fe.ReadInput(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		if err := e.serveTurn(ctx, sessionID, text, fe); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("turn served")
	}
}

func (e *Engine) serveTurn(ctx context.Context, sessionID, text string, fe core.Frontend) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Taken before the watcher starts so a cancel that arrives right away is
	// not lost when the front-end re-arms its channel.
	cancelled := fe.Cancellation()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-cancelled:
			cancel()
		case <-stop:
		}
	}()

	if err := fe.EmitState(core.StateRunning); err != nil {
		return fmt.Errorf("emit state: %w", err)
	}

	var emitErr error
	_, err := e.Run(turnCtx, &Input{
		SessionID:   sessionID,
		UserMessage: text,
		StreamCallback: func(chunk string, done bool) {
			if emitErr != nil {
				return
			}
			emitErr = fe.EmitChunk(chunk, done)
		},
	})
	if err != nil {
		// The front-end already received the done chunk; a failed reply
		// leaves the session usable.
		e.logger.Error("turn failed", "session", sessionID, "error", err)
	}
	if emitErr != nil {
		return fmt.Errorf("emit chunk: %w", emitErr)
	}
	if err := fe.EmitState(core.StateIdle); err != nil {
		return fmt.Errorf("emit state: %w", err)
	}
	return nil
}
