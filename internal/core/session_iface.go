package core

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceQueue/internal/domain"
)

// ErrSessionInvalid means the queue service no longer knows the session.
var ErrSessionInvalid = errors.New("session invalidated")

type QueueService interface {
	Join(ctx context.Context, name string, group domain.SubGroupName) (domain.JoinResult, error)
	Leave(ctx context.Context, sid domain.SessionID) error
	// Status returns ErrSessionInvalid on any non-success response.
	Status(ctx context.Context, sid domain.SessionID) (domain.QueueStatus, error)
	Action(ctx context.Context, sid domain.SessionID, action domain.QueueAction) error
}

type NotificationKind string

const (
	NotifyNextUp      NotificationKind = "next-up"
	NotifyTurn        NotificationKind = "turn"
	NotifyForfeited   NotificationKind = "forfeited"
	NotifyInvalidated NotificationKind = "invalidated"
)

type Notification struct {
	Kind    NotificationKind
	Reason  string
	Message string
}

// Notifier presents one-shot notifications to the participant.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a plain function.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
