package core

import "context"

// State is a coarse status a front-end may render.
type State string

const (
	StateReady   State = "ready"
	StateRunning State = "running"
	StateIdle    State = "idle"
)

// Frontend is the I/O contract every transport (terminal, socket, bot)
// implements. The pipeline only ever talks to this interface.
type Frontend interface {
	// WaitReady blocks until the transport can exchange messages.
	WaitReady(ctx context.Context) error

	// ReadInput blocks for the next user message. io.EOF ends the session.
	ReadInput(ctx context.Context) (string, error)

	// EmitChunk streams part of the reply; done marks the final chunk.
	EmitChunk(chunk string, done bool) error

	// EmitState reports a status change.
	EmitState(state State) error

	// Cancellation fires when the user asks to stop the in-flight reply.
	Cancellation() <-chan struct{}
}
