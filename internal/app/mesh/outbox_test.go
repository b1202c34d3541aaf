package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceQueue/internal/domain"
)

type recordingMailbox struct {
	fakeMailbox
	mu   sync.Mutex
	sent []domain.Envelope
}

func (m *recordingMailbox) SendSignal(_ context.Context, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, env)
	return nil
}

func (m *recordingMailbox) snapshot() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Envelope(nil), m.sent...)
}

func TestOutboxPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mb := &recordingMailbox{}
	o := NewOutbox(ctx, mb)

	kinds := []domain.SignalKind{domain.SignalOffer, domain.SignalICECandidate, domain.SignalICECandidate}
	for _, k := range kinds {
		o.Send(domain.Envelope{From: "a", To: "b", Kind: k})
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(mb.snapshot()) < len(kinds) {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d of %d", len(mb.snapshot()), len(kinds))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, env := range mb.snapshot() {
		if env.Kind != kinds[i] {
			t.Fatalf("envelope %d = %s, want %s", i, env.Kind, kinds[i])
		}
	}

	cancel()
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("outbox did not stop")
	}
	o.Send(domain.Envelope{From: "a", To: "b", Kind: domain.SignalOffer})
}
