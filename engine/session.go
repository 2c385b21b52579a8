package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/becomeliminal/nim-recall/core"
)

// DefaultSessionID is used when Input.SessionID is empty.
const DefaultSessionID = "default"

// session is one conversation and its single-flight gate. The gate is held
// from the start of a turn until that turn's post-processing finishes; the
// conversation is only touched while holding it.
type session struct {
	id   string
	conv *core.Conversation
	gate *semaphore.Weighted
}

func (s *session) acquire(ctx context.Context) error {
	return s.gate.Acquire(ctx, 1)
}

func (s *session) release() {
	s.gate.Release(1)
}

// session returns the live session, restoring it from a snapshot on first
// use.
func (e *Engine) session(ctx context.Context, id string) *session {
	if id == "" {
		id = DefaultSessionID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[id]; ok {
		return s
	}

	var conv *core.Conversation
	if e.snapshots != nil {
		conv = e.snapshots.Load(ctx, id)
	} else {
		conv = core.NewConversation(id)
	}
	if conv.Len() == 0 && e.systemPrompt != "" {
		conv.Append(core.NewPinnedMessage(core.RoleSystem, e.systemPrompt))
	}

	s := &session{id: id, conv: conv, gate: semaphore.NewWeighted(1)}
	e.sessions[id] = s
	e.metrics.Sessions(len(e.sessions))
	e.logger.Debug("session opened", "session", id, "messages", conv.Len())
	return s
}

// Sessions returns the ids of live sessions.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Release drops the session from memory once its in-flight turn and
// post-processing have finished. The conversation is snapshotted first so a
// later turn with the same id resumes it. Releasing an unknown session is a
// no-op.
func (e *Engine) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer s.release()

	// A session whose snapshot fails stays live so nothing is lost.
	if e.snapshots != nil {
		if err := e.snapshots.Save(ctx, s.conv); err != nil {
			return fmt.Errorf("snapshot session %s: %w", sessionID, err)
		}
	}

	e.mu.Lock()
	if e.sessions[sessionID] == s {
		delete(e.sessions, sessionID)
	}
	e.metrics.Sessions(len(e.sessions))
	e.mu.Unlock()

	e.logger.Debug("session released", "session", sessionID)
	return nil
}
