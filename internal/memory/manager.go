package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// DefaultMaxMessages caps the messages stored per session.
const DefaultMaxMessages = 10000

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// StoragePath is the directory sessions are persisted to.
	// Empty keeps sessions in memory only.
	StoragePath string

	// DefaultPolicy applies to creates that name no policy.
	DefaultPolicy Policy

	// DefaultWindow applies to window sessions created without a size.
	DefaultWindow int

	// MaxMessages caps stored messages per session; the oldest are dropped.
	MaxMessages int

	Logger *slog.Logger
}

// Manager handles session lifecycle operations.
type Manager struct {
	dir           string
	defaultPolicy Policy
	defaultWindow int
	maxMessages   int
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager and loads persisted sessions.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath != "" {
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create memory storage: %w", err)
		}
	}
	policy := cfg.DefaultPolicy
	if policy == "" {
		policy = PolicySimple
	}
	window := cfg.DefaultWindow
	if window <= 0 {
		window = DefaultWindow
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		dir:           cfg.StoragePath,
		defaultPolicy: policy,
		defaultWindow: window,
		maxMessages:   maxMessages,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadAll() error {
	if m.dir == "" {
		return nil
	}
	ids, err := listSessionIDs(m.dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		sess, err := loadSession(m.dir, id)
		if err != nil {
			m.logger.Warn("memory_session_skipped", slog.String("session", id), slog.String("error", err.Error()))
			continue
		}
		m.sessions[id] = sess
	}
	return nil
}

// Create starts a new session and returns its id. An empty policy and a
// zero window take the manager defaults.
func (m *Manager) Create(policy Policy, window int) (string, error) {
	if policy == "" {
		policy = m.defaultPolicy
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return "", ixerrors.ValidationError(err.Error(), nil)
	}
	if window < 0 {
		return "", ixerrors.ValidationError(fmt.Sprintf("window must not be negative, got %d", window), nil)
	}
	if policy == PolicyWindow && window == 0 {
		window = m.defaultWindow
	}
	if policy == PolicySimple {
		window = 0
	}

	sess := newSession(uuid.NewString(), policy, window)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persist(sess); err != nil {
		return "", err
	}
	m.sessions[sess.ID] = sess

	m.logger.Debug("memory_session_created",
		slog.String("session", sess.ID),
		slog.String("policy", string(policy)),
		slog.Int("window", window))
	return sess.ID, nil
}

// Add appends messages to a session.
func (m *Manager) Add(id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Text) == "" {
			return ixerrors.ValidationError("message text is required", nil)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	next := *sess
	next.Messages = slices.Clone(sess.Messages)
	for _, msg := range msgs {
		if msg.Role == "" {
			msg.Role = "user"
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		next.Messages = append(next.Messages, msg)
	}
	if over := len(next.Messages) - m.maxMessages; over > 0 {
		next.Messages = slices.Delete(next.Messages, 0, over)
	}
	next.UpdatedAt = now

	if err := m.persist(&next); err != nil {
		return err
	}
	m.sessions[id] = &next
	return nil
}

// Retrieve returns the messages the session policy keeps visible, oldest first.
func (m *Manager) Retrieve(id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.Visible(), nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	out := *sess
	out.Messages = slices.Clone(sess.Messages)
	return &out, nil
}

// List returns every session, most recently updated first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.ToInfo())
	}
	m.mu.Unlock()

	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	if m.dir != "" {
		if err := removeSession(m.dir, id); err != nil {
			return ixerrors.BackendError("failed to delete session", err)
		}
	}
	delete(m.sessions, id)
	return nil
}

// Prune removes sessions not updated within olderThan and returns how many.
func (m *Manager) Prune(olderThan time.Duration) int {
	var stale []string
	for _, info := range m.List() {
		if time.Since(info.UpdatedAt) > olderThan {
			stale = append(stale, info.ID)
		}
	}

	deleted := 0
	for _, id := range stale {
		if err := m.Delete(id); err != nil {
			m.logger.Warn("memory_prune_failed", slog.String("session", id), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	return deleted
}

func (m *Manager) lookup(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, sessionNotFound(id)
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, sessionNotFound(id)
	}
	return sess, nil
}

func (m *Manager) persist(sess *Session) error {
	if m.dir == "" {
		return nil
	}
	if err := saveSession(m.dir, sess); err != nil {
		return ixerrors.BackendError("failed to persist session", err)
	}
	return nil
}

func sessionNotFound(id string) error {
	return ixerrors.New(ixerrors.ErrCodeSessionNotFound, fmt.Sprintf("session %q does not exist", id), nil).
		WithDetail("session", id)
}

// IsNotFound reports whether err is a missing session.
func IsNotFound(err error) bool {
	return errors.Is(err, ixerrors.ErrSessionNotFound)
}
