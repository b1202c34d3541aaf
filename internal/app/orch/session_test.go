package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceQueue/internal/app/turn"
	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeQueue struct {
	mu       sync.Mutex
	status   domain.QueueStatus
	err      error
	errs     []error
	actions  []domain.QueueAction
	left     []domain.SessionID
	joins    int
	statuses int
}

func (q *fakeQueue) Join(context.Context, string, domain.SubGroupName) (domain.JoinResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.joins++
	return domain.JoinResult{SessionID: "me", Position: 1, SubGroup: "General"}, nil
}

func (q *fakeQueue) Leave(_ context.Context, sid domain.SessionID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.left = append(q.left, sid)
	return nil
}

func (q *fakeQueue) Status(context.Context, domain.SessionID) (domain.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses++
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		if err != nil {
			return domain.QueueStatus{}, err
		}
	}
	return q.status, q.err
}

func (q *fakeQueue) Action(_ context.Context, _ domain.SessionID, a domain.QueueAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(q.actions, a)
	return nil
}

func (q *fakeQueue) set(st domain.QueueStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status = st
}

func (q *fakeQueue) actionList() []domain.QueueAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueueAction(nil), q.actions...)
}

type fakeMailbox struct {
	mu      sync.Mutex
	fetches int
}

func (m *fakeMailbox) Peers(context.Context, domain.SubGroupName) ([]domain.Peer, error) {
	return nil, nil
}

func (m *fakeMailbox) SendSignal(context.Context, domain.Envelope) error { return nil }

func (m *fakeMailbox) FetchSignals(context.Context, domain.SessionID) ([]domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	return nil, nil
}

func (m *fakeMailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

type nopFactory struct{}

func (nopFactory) NewConnection(domain.SessionID, core.ConnectionEvents) (core.MediaConnection, error) {
	return nil, errors.New("not used")
}

type fakeTrack struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) Track() webrtc.TrackLocal { return nil }

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeCapture struct {
	track *fakeTrack
	err   error
}

func (c fakeCapture) Open(context.Context, domain.AudioConstraints) (core.LocalTrack, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.track, nil
}

type harness struct {
	s       *Session
	queue   *fakeQueue
	mailbox *fakeMailbox
	track   *fakeTrack
}

func newHarness(t *testing.T, captureErr error) *harness {
	t.Helper()
	h := &harness{queue: &fakeQueue{}, mailbox: &fakeMailbox{}, track: &fakeTrack{}}
	h.s = New(Config{
		Name:           "Ann",
		SignalInterval: 5 * time.Millisecond,
		StatusInterval: 5 * time.Millisecond,
		Turn:           turn.Config{AutoSkip: time.Hour, GetReady: time.Hour},
	}, Deps{
		Queue:   h.queue,
		Mailbox: h.mailbox,
		Factory: nopFactory{},
		Capture: fakeCapture{track: h.track, err: captureErr},
	})
	t.Cleanup(h.s.Stop)
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) state(t *testing.T) turn.State {
	t.Helper()
	snap, err := h.s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snap.Turn.State
}

func TestStartJoinsAndFollowsStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.set(domain.QueueStatus{Position: 2, TotalInQueue: 2, IsPosition2: true})
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "position 2", func() bool { return h.state(t) == turn.Position2 })

	snap, _ := h.s.Snapshot(context.Background())
	if snap.Local.SessionID != "me" || !snap.AudioEnabled || !snap.Muted {
		t.Fatalf("snapshot=%+v", snap)
	}
	eventually(t, "signal polling", func() bool { return h.mailbox.count() > 0 })
}

func TestOperatorControls(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.set(domain.QueueStatus{Position: 1, TotalInQueue: 1, IsPosition1: true})
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.s.FinishTurn(context.Background()); !errors.Is(err, turn.ErrInvalidAction) {
		t.Fatalf("finish before start: err=%v", err)
	}
	eventually(t, "position 1", func() bool { return h.state(t) == turn.Position1Idle })

	if err := h.s.StartTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.track.Enabled() {
		t.Fatal("track should be live while reading")
	}
	eventually(t, "start submitted", func() bool { return len(h.queue.actionList()) == 1 })
	if err := h.s.FinishTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.track.Enabled() {
		t.Fatal("track should be muted after finishing")
	}
	eventually(t, "actions submitted", func() bool { return len(h.queue.actionList()) == 2 })
	if got := h.queue.actionList(); got[0] != domain.ActionStart || got[1] != domain.ActionFinish {
		t.Fatalf("actions=%v", got)
	}
}

func TestNon2xxStatusInvalidates(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.err = core.ErrSessionInvalid

	got := make(chan error, 1)
	h.s.OnInvalidated(func(err error) { got <- err })
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, core.ErrSessionInvalid) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("not invalidated")
	}
	snap, err := h.s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Invalidated || snap.Local.SessionID != "" || snap.Turn.State != turn.NotInQueue {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !h.track.isStopped() {
		t.Fatal("capture should be released")
	}
}

func TestConsecutiveTransportFailuresInvalidate(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("connection refused")
	h.queue.errs = []error{boom, boom, nil, boom, boom, boom}
	h.queue.status = domain.QueueStatus{Position: 3, TotalInQueue: 3}

	got := make(chan error, 1)
	h.s.OnInvalidated(func(err error) { got <- err })
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, core.ErrSessionInvalid) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("not invalidated")
	}
	h.queue.mu.Lock()
	n := h.queue.statuses
	h.queue.mu.Unlock()
	if n != 6 {
		t.Fatalf("status polls=%d, want 6", n)
	}
}

func TestAudioUnavailableSkipsSignaling(t *testing.T) {
	h := newHarness(t, core.ErrUnsupported)
	h.queue.set(domain.QueueStatus{Position: 1, TotalInQueue: 1, IsPosition1: true})
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "position 1", func() bool { return h.state(t) == turn.Position1Idle })
	if err := h.s.StartTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap, _ := h.s.Snapshot(context.Background())
	if snap.AudioEnabled || snap.Turn.State != turn.Position1Reading {
		t.Fatalf("snapshot=%+v", snap)
	}
	if h.mailbox.count() != 0 {
		t.Fatal("signaling loop should not run without audio")
	}
}

func TestLeaveAndStopIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Leave(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.s.Stop()
	h.s.Stop()

	h.queue.mu.Lock()
	left := h.queue.left
	h.queue.mu.Unlock()
	if len(left) != 1 || left[0] != "me" {
		t.Fatalf("left=%v", left)
	}
	if !h.track.isStopped() {
		t.Fatal("capture should be released")
	}
	if _, err := h.s.Snapshot(context.Background()); err == nil {
		t.Fatal("snapshot after stop should fail")
	}
}

func TestStopBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Stop()
	if err := h.s.StartTurn(context.Background()); err == nil {
		t.Fatal("controls should fail before start")
	}
}
