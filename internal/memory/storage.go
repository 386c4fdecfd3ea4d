package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sessionExt is the file extension of persisted sessions.
const sessionExt = ".json"

// ValidateID checks that id is a UUID, so it is also a safe file name.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

func sessionPath(dir, id string) string {
	return filepath.Join(dir, id+sessionExt)
}

// saveSession persists a session with an atomic write (temp file + rename).
func saveSession(dir string, sess *Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := sessionPath(dir, sess.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}
	return nil
}

// loadSession reads one session. A missing file returns os.ErrNotExist.
func loadSession(dir, id string) (*Session, error) {
	data, err := os.ReadFile(sessionPath(dir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
	}
	sess.ID = id
	return &sess, nil
}

// listSessionIDs returns the ids of every persisted session.
func listSessionIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read memory directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sessionExt) {
			continue
		}
		id := strings.TrimSuffix(name, sessionExt)
		if ValidateID(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func removeSession(dir, id string) error {
	err := os.Remove(sessionPath(dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
