// Package memory stores conversation history sessions. A session keeps every
// message it is given; its policy decides which of them Retrieve returns.
package memory

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/indexify/pkg/version"
)

// Policy selects which messages a session returns.
type Policy string

const (
	// PolicySimple returns every message.
	PolicySimple Policy = "simple"
	// PolicyWindow returns the most recent Window messages.
	PolicyWindow Policy = "window"
)

// DefaultWindow is used when a window session is created without a size.
const DefaultWindow = 20

// ParsePolicy parses a policy name. Empty means simple.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySimple:
		return PolicySimple, nil
	case PolicyWindow:
		return PolicyWindow, nil
	default:
		return "", fmt.Errorf("unknown memory policy %q (use simple or window)", s)
	}
}

// Message is one conversation turn.
type Message struct {
	Role      string            `json:"role"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Session is a persisted conversation.
type Session struct {
	// ID is a random UUID assigned on creation.
	ID string `json:"id"`

	Policy Policy `json:"policy"`

	// Window is the number of messages kept visible by PolicyWindow.
	Window int `json:"window,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the Indexify version that created this session.
	Version string `json:"version"`

	Messages []Message `json:"messages"`
}

// Info summarises a session for listing.
type Info struct {
	ID        string    `json:"id"`
	Policy    Policy    `json:"policy"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSession(id string, policy Policy, window int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Policy:    policy,
		Window:    window,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   version.Version,
		Messages:  []Message{},
	}
}

// Visible applies the session policy.
func (s *Session) Visible() []Message {
	msgs := s.Messages
	if s.Policy == PolicyWindow && s.Window > 0 && len(msgs) > s.Window {
		msgs = msgs[len(msgs)-s.Window:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ToInfo converts a Session to Info for listing.
func (s *Session) ToInfo() Info {
	return Info{ID: s.ID, Policy: s.Policy, Messages: len(s.Messages), UpdatedAt: s.UpdatedAt}
}
