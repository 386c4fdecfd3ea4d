package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
	"github.com/Aman-CERP/indexify/internal/logging"
)

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{StoragePath: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	return m
}

func msgTexts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// TS01: The simple policy returns every message in order
func TestManager_SimplePolicy(t *testing.T) {
	// Given: a simple session with three messages
	m := newTestManager(t, "")
	id, err := m.Create(PolicySimple, 0)
	require.NoError(t, err)
	require.NoError(t, m.Add(id, Message{Text: "one"}, Message{Text: "two"}))
	require.NoError(t, m.Add(id, Message{Role: "assistant", Text: "three"}))

	// When: retrieving
	msgs, err := m.Retrieve(id)

	// Then: everything comes back oldest first
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, msgTexts(msgs))
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.False(t, msgs[0].CreatedAt.IsZero())
}

// TS02: The window policy returns the last N messages
func TestManager_WindowPolicy(t *testing.T) {
	m := newTestManager(t, "")
	id, err := m.Create(PolicyWindow, 2)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, m.Add(id, Message{Text: fmt.Sprintf("m%d", i)}))
	}

	msgs, err := m.Retrieve(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, msgTexts(msgs))

	// The full history is still stored.
	sess, err := m.Get(id)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 5)
}

func TestManager_Create_Defaults(t *testing.T) {
	m, err := NewManager(ManagerConfig{DefaultPolicy: PolicyWindow, DefaultWindow: 3, Logger: logging.Discard()})
	require.NoError(t, err)

	id, err := m.Create("", 0)
	require.NoError(t, err)

	sess, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, PolicyWindow, sess.Policy)
	assert.Equal(t, 3, sess.Window)
	assert.NoError(t, ValidateID(id))
}

func TestManager_Create_RejectsBadInput(t *testing.T) {
	m := newTestManager(t, "")

	_, err := m.Create("lru", 0)
	assert.ErrorIs(t, err, ixerrors.ErrInvalidInput)

	_, err = m.Create(PolicyWindow, -1)
	assert.ErrorIs(t, err, ixerrors.ErrInvalidInput)
}

// TS03: Unknown sessions are reported as not found
func TestManager_UnknownSession(t *testing.T) {
	m := newTestManager(t, "")

	_, err := m.Retrieve("not-a-uuid")
	assert.True(t, IsNotFound(err))

	err = m.Add("6f1f7c1e-8a43-4a39-9a53-3f0f1b7d2b10", Message{Text: "x"})
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(m.Delete("6f1f7c1e-8a43-4a39-9a53-3f0f1b7d2b10")))
}

func TestManager_Add_RejectsEmptyText(t *testing.T) {
	m := newTestManager(t, "")
	id, err := m.Create(PolicySimple, 0)
	require.NoError(t, err)

	err = m.Add(id, Message{Text: "ok"}, Message{Text: "  "})

	assert.ErrorIs(t, err, ixerrors.ErrInvalidInput)
	msgs, err := m.Retrieve(id)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestManager_Add_CapsStoredMessages(t *testing.T) {
	m, err := NewManager(ManagerConfig{MaxMessages: 3, Logger: logging.Discard()})
	require.NoError(t, err)
	id, err := m.Create(PolicySimple, 0)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, m.Add(id, Message{Text: fmt.Sprintf("m%d", i)}))
	}

	msgs, err := m.Retrieve(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, msgTexts(msgs))
}

// TS04: Sessions survive a restart
func TestManager_Persistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "memory")

	// Given: a session written by one manager
	m1 := newTestManager(t, dir)
	id, err := m1.Create(PolicyWindow, 1)
	require.NoError(t, err)
	require.NoError(t, m1.Add(id, Message{Text: "first"}, Message{Text: "second"}))

	// When: a new manager loads the directory
	m2 := newTestManager(t, dir)

	// Then: the session and its policy are back
	msgs, err := m2.Retrieve(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, msgTexts(msgs))
	assert.FileExists(t, filepath.Join(dir, id+".json"))
	assert.NoFileExists(t, filepath.Join(dir, id+".json.tmp"))

	require.NoError(t, m2.Delete(id))
	assert.NoFileExists(t, filepath.Join(dir, id+".json"))
}

func TestManager_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	bad := "0b0e5a52-7b4d-4c1e-8f0e-3c6f1c1a9d11"
	require.NoError(t, os.WriteFile(filepath.Join(dir, bad+".json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644))

	m := newTestManager(t, dir)

	assert.Empty(t, m.List())
}

func TestManager_ListAndPrune(t *testing.T) {
	m := newTestManager(t, "")
	old, err := m.Create(PolicySimple, 0)
	require.NoError(t, err)
	fresh, err := m.Create(PolicySimple, 0)
	require.NoError(t, err)

	m.mu.Lock()
	m.sessions[old].UpdatedAt = time.Now().Add(-48 * time.Hour)
	m.mu.Unlock()

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, fresh, infos[0].ID)

	assert.Equal(t, 1, m.Prune(24*time.Hour))
	infos = m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, fresh, infos[0].ID)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySimple, p)

	p, err = ParsePolicy("window")
	require.NoError(t, err)
	assert.Equal(t, PolicyWindow, p)

	_, err = ParsePolicy("fifo")
	assert.Error(t, err)
}
