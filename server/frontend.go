package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-recall/core"
)

// Client -> server frame types.
const (
	FrameMessage = "message"
	FrameCancel  = "cancel"
)

// Server -> client frame types.
const (
	FrameChunk = "chunk"
	FrameState = "state"
	FrameError = "error"
)

// inputBuffer is how many messages may queue while a reply streams.
const inputBuffer = 16

// Frame is the JSON envelope exchanged over the socket.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	State   string `json:"state,omitempty"`
}

// wsFrontend adapts one websocket connection to core.Frontend. A reader
// goroutine splits incoming frames into messages and cancellations so a
// cancel arrives while a reply is streaming.
type wsFrontend struct {
	conn    *websocket.Conn
	session string
	limiter *rateLimiter
	logger  *slog.Logger

	writeMu sync.Mutex

	inputs  chan string
	readErr chan error
	done    chan struct{}

	cancelMu sync.Mutex
	cancel   chan struct{}
}

var _ core.Frontend = (*wsFrontend)(nil)

func newWSFrontend(conn *websocket.Conn, session string, limiter *rateLimiter, logger *slog.Logger) *wsFrontend {
	return &wsFrontend{
		conn:    conn,
		session: session,
		limiter: limiter,
		logger:  logger,
		inputs:  make(chan string, inputBuffer),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
		cancel:  make(chan struct{}),
	}
}

// readLoop runs until the connection closes.
func (f *wsFrontend) readLoop() {
	for {
		var frame Frame
		if err := f.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			f.readErr <- err
			return
		}

		switch frame.Type {
		case FrameCancel:
			f.fireCancel()
		case FrameMessage:
			if !f.limiter.Allow(f.session) {
				f.logger.Warn("message rate limited", "session", f.session)
				_ = f.write(Frame{Type: FrameError, Content: "rate limited, slow down"})
				continue
			}
			select {
			case f.inputs <- frame.Content:
			case <-f.done:
				return
			}
		default:
			_ = f.write(Frame{Type: FrameError, Content: "unknown frame type: " + frame.Type})
		}
	}
}

// close stops the reader once the connection is no longer served.
func (f *wsFrontend) close() {
	close(f.done)
}

// fireCancel closes the current cancellation channel and arms a new one for
// the next reply.
func (f *wsFrontend) fireCancel() {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	close(f.cancel)
	f.cancel = make(chan struct{})
}

func (f *wsFrontend) write(frame Frame) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(frame)
}

// WaitReady implements core.Frontend. The socket is ready once upgraded.
func (f *wsFrontend) WaitReady(context.Context) error {
	go f.readLoop()
	return nil
}

// ReadInput implements core.Frontend.
func (f *wsFrontend) ReadInput(ctx context.Context) (string, error) {
	select {
	case in := <-f.inputs:
		return in, nil
	case err := <-f.readErr:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EmitChunk implements core.Frontend.
func (f *wsFrontend) EmitChunk(chunk string, done bool) error {
	return f.write(Frame{Type: FrameChunk, Content: chunk, Done: done})
}

// EmitState implements core.Frontend.
func (f *wsFrontend) EmitState(state core.State) error {
	return f.write(Frame{Type: FrameState, State: string(state)})
}

// Cancellation implements core.Frontend.
func (f *wsFrontend) Cancellation() <-chan struct{} {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	return f.cancel
}

