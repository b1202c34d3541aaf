package mesh

import (
	"context"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	outboxSize    = 256
	outboxTimeout = 5 * time.Second
)

// Outbox posts envelopes to the mailbox one at a time, in submission order,
// off the control goroutine.
type Outbox struct {
	mailbox core.Mailbox
	queue   chan domain.Envelope
	done    chan struct{}
}

func NewOutbox(ctx context.Context, mailbox core.Mailbox) *Outbox {
	o := &Outbox{
		mailbox: mailbox,
		queue:   make(chan domain.Envelope, outboxSize),
		done:    make(chan struct{}),
	}
	go o.run(ctx)
	return o
}

// Send never blocks. Envelopes are dropped when the outbox is full or stopped.
func (o *Outbox) Send(env domain.Envelope) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.queue <- env:
	default:
		log.Warn().Str("module", "outbox").Str("to", string(env.To)).Str("type", string(env.Kind)).Msg("outbox full, signal dropped")
	}
}

// Done is closed once the sender goroutine exits.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-o.queue:
			sctx, cancel := context.WithTimeout(ctx, outboxTimeout)
			err := o.mailbox.SendSignal(sctx, env)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("module", "outbox").Str("to", string(env.To)).Str("type", string(env.Kind)).Msg("send signal")
			}
		}
	}
}
