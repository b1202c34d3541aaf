package core

import (
	"context"

	"github.com/dkeye/VoiceQueue/internal/domain"
)

// Mailbox is the store-and-forward relay standing in for a persistent
// signaling channel. Delivery is best effort; FetchSignals drains.
type Mailbox interface {
	Peers(ctx context.Context, group domain.SubGroupName) ([]domain.Peer, error)
	SendSignal(ctx context.Context, env domain.Envelope) error
	FetchSignals(ctx context.Context, sid domain.SessionID) ([]domain.Envelope, error)
}

// SignalSender queues an envelope for delivery without blocking the caller.
type SignalSender interface {
	Send(env domain.Envelope)
}
