package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/persist"
)

const snapshotVersion = 1

// Snapshot is the persisted form of a conversation.
type Snapshot struct {
	Version  int            `json:"version"`
	ID       string         `json:"id"`
	SavedAt  time.Time      `json:"saved_at"`
	Messages []core.Message `json:"messages"`
}

// SaveConversation atomically writes conv to path.
func SaveConversation(path string, conv *core.Conversation) error {
	return persist.WriteJSON(path, Snapshot{
		Version:  snapshotVersion,
		ID:       conv.ID,
		SavedAt:  time.Now(),
		Messages: conv.Messages(),
	})
}

// LoadConversation reads the conversation at path. A missing file yields an
// empty conversation. An unreadable file also yields an empty conversation,
// together with an error wrapping core.ErrCorruptSnapshot.
func LoadConversation(path, id string) (*core.Conversation, error) {
	var snap Snapshot
	found, err := persist.ReadJSON(path, &snap)
	if err != nil {
		return core.NewConversation(id), err
	}
	if !found {
		return core.NewConversation(id), nil
	}
	if err := snap.validate(); err != nil {
		return core.NewConversation(id), fmt.Errorf("%w: %s: %w", core.ErrCorruptSnapshot, path, err)
	}

	sort.SliceStable(snap.Messages, func(i, j int) bool {
		return snap.Messages[i].Timestamp.Before(snap.Messages[j].Timestamp)
	})
	return core.RestoreConversation(id, snap.Messages), nil
}

func (s *Snapshot) validate() error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported version %d", s.Version)
	}
	for i, m := range s.Messages {
		switch m.Role {
		case core.RoleUser, core.RoleAssistant, core.RoleSystem:
		default:
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

// FileSnapshots keeps one snapshot file per session in a directory.
type FileSnapshots struct {
	dir    string
	logger *slog.Logger
}

// NewFileSnapshots creates a snapshot directory store.
func NewFileSnapshots(dir string, logger *slog.Logger) *FileSnapshots {
	return &FileSnapshots{
		dir:    dir,
		logger: logging.OrNop(logger).With("component", "history.snapshots"),
	}
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Path returns the snapshot file of a session.
func (f *FileSnapshots) Path(sessionID string) string {
	name := sessionID
	if !safeID.MatchString(name) {
		name = "b64-" + base64.RawURLEncoding.EncodeToString([]byte(sessionID))
	}
	return filepath.Join(f.dir, name+".json")
}

// Load restores a session. Corrupt snapshots are logged and replaced by an
// empty conversation.
func (f *FileSnapshots) Load(_ context.Context, sessionID string) *core.Conversation {
	path := f.Path(sessionID)
	conv, err := LoadConversation(path, sessionID)
	if err != nil {
		f.logger.Error("conversation snapshot unreadable, starting fresh",
			"session", sessionID, "path", path, "error", err)
		return conv
	}
	f.logger.Debug("conversation restored", "session", sessionID, "messages", conv.Len())
	return conv
}

// Save persists a session.
func (f *FileSnapshots) Save(_ context.Context, conv *core.Conversation) error {
	if err := SaveConversation(f.Path(conv.ID), conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}
