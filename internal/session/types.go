package session

import (
	"errors"
	"regexp"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidKey is returned for empty or malformed session ids
	ErrInvalidKey = errors.New("invalid session id")

	// ErrInvalidMessage is returned for an unknown role or empty content
	ErrInvalidMessage = errors.New("invalid message")

	// ErrStoreClosed is returned once Close has been called
	ErrStoreClosed = errors.New("session store closed")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// ValidateKey checks a session id.
func ValidateKey(id string) error {
	if !keyPattern.MatchString(id) {
		return ErrInvalidKey
	}
	return nil
}

// Session is the committed state for one session key.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	History     []Message `json:"history"`
	ResearchIDs []string  `json:"research_ids"`
}

// Message represents a message in the session history
type Message struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Info is the read-only summary returned by GetSessionInfo.
type Info struct {
	SessionID     string    `json:"sessionId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	MessageCount  int       `json:"messageCount"`
	ResearchCount int       `json:"researchCount"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []Message{},
		ResearchIDs: []string{},
	}
}

// clone returns a deep copy so committed snapshots are never mutated in place.
func (s *Session) clone() *Session {
	c := *s
	c.History = append(make([]Message, 0, len(s.History)+1), s.History...)
	c.ResearchIDs = append(make([]string, 0, len(s.ResearchIDs)+1), s.ResearchIDs...)
	return &c
}

func (s *Session) info() Info {
	return Info{
		SessionID:     s.ID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		MessageCount:  len(s.History),
		ResearchCount: len(s.ResearchIDs),
	}
}

func validRole(role string) bool {
	switch role {
	case "user", "assistant", "system":
		return true
	}
	return false
}
