// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxNameLen         = 36
	MaxParticipants    = 20
	DefaultSubGroup    = SubGroupName("General")
	maxSessionIDLength = 64
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
)

type SessionID string

// Participant is one queue member as the queue service stores it.
type Participant struct {
	SessionID  SessionID    `json:"sessionId"`
	Name       string       `json:"name"`
	SubGroup   SubGroupName `json:"subGroup"`
	JoinedAt   time.Time    `json:"joinedAt"`
	LastActive time.Time    `json:"lastActive"`
}

// NewParticipant validates the display name and allocates a fresh session id.
func NewParticipant(name string, group SubGroupName, now time.Time) (*Participant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Participant{
		SessionID:  SessionID(uuid.NewString()),
		Name:       name,
		SubGroup:   group,
		JoinedAt:   now,
		LastActive: now,
	}, nil
}

func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

// Valid reports whether the id is usable as a path segment.
func (s SessionID) Valid() bool {
	return len(s) > 0 && len(s) <= maxSessionIDLength
}

// Peer is a roster entry returned by the mailbox.
type Peer struct {
	SessionID SessionID    `json:"sessionId"`
	Name      string       `json:"name,omitempty"`
	SubGroup  SubGroupName `json:"subGroup,omitempty"`
}
