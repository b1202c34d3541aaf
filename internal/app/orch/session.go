// Package orch wires the mesh, the turn coordinator and the two poll loops
// into one participant session.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceQueue/internal/app/loop"
	"github.com/dkeye/VoiceQueue/internal/app/mesh"
	"github.com/dkeye/VoiceQueue/internal/app/turn"
	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSignalInterval  = time.Second
	DefaultStatusInterval  = 750 * time.Millisecond
	DefaultMaxPollFailures = 3
	defaultActionTimeout   = 10 * time.Second
)

type Config struct {
	Name     string
	SubGroup domain.SubGroupName

	// SessionID resumes an existing queue entry instead of joining.
	SessionID domain.SessionID

	SignalInterval  time.Duration
	StatusInterval  time.Duration
	MaxPollFailures int

	Constraints domain.AudioConstraints
	Turn        turn.Config
}

// Deps are the collaborators a Session drives. Loop is optional; the
// connection factory must post its events to the same loop.
type Deps struct {
	Loop     *loop.Loop
	Queue    core.QueueService
	Mailbox  core.Mailbox
	Factory  core.ConnectionFactory
	Capture  core.Capture
	Playback core.Playback
	Notifier core.Notifier
}

type Session struct {
	cfg  Config
	deps Deps
	loop *loop.Loop

	// owned by the loop
	local domain.LocalSession
	mesh  *mesh.Manager
	coord *turn.Coordinator
	audio bool

	outbox        *mesh.Outbox
	pollCtx       context.Context
	pollCancel    context.CancelFunc
	wg            sync.WaitGroup
	started       atomic.Bool
	running       atomic.Bool
	invalidated   atomic.Bool
	stopOnce      sync.Once
	onInvalidated func(error)
}

func New(cfg Config, deps Deps) *Session {
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = DefaultSignalInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = DefaultMaxPollFailures
	}
	if cfg.SubGroup == "" {
		cfg.SubGroup = domain.DefaultSubGroup
	}
	l := deps.Loop
	if l == nil {
		l = loop.New()
	}
	return &Session{cfg: cfg, deps: deps, loop: l}
}

// OnInvalidated registers the single callback fired, on the loop, when the
// queue service stops recognising the session. Set it before Start.
func (s *Session) OnInvalidated(fn func(error)) { s.onInvalidated = fn }

// Start joins the queue when no session id was given, acquires audio and
// starts polling. Audio failure is not an error.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started")
	}
	local := domain.LocalSession{SessionID: s.cfg.SessionID, SubGroup: s.cfg.SubGroup, Name: s.cfg.Name}
	if !local.SessionID.Valid() {
		res, err := s.deps.Queue.Join(ctx, s.cfg.Name, s.cfg.SubGroup)
		if err != nil {
			return fmt.Errorf("join queue: %w", err)
		}
		local.SessionID = res.SessionID
		if res.SubGroup != "" {
			local.SubGroup = res.SubGroup
		}
		log.Info().Str("module", "orch").Str("sid", string(res.SessionID)).Int("position", res.Position).Str("subGroup", string(local.SubGroup)).Msg("joined queue")
	}

	s.loop.Start(ctx)
	s.running.Store(true)
	s.pollCtx, s.pollCancel = context.WithCancel(ctx)
	s.outbox = mesh.NewOutbox(s.pollCtx, s.deps.Mailbox)

	m := mesh.NewManager(
		mesh.Config{Self: local.SessionID, SubGroup: local.SubGroup, Constraints: s.cfg.Constraints},
		s.loop, s.deps.Mailbox, s.outbox, s.deps.Factory, s.deps.Capture, s.deps.Playback,
	)
	coord := turn.NewCoordinator(s.cfg.Turn, turn.LoopClock{Exec: s.loop}, m, s, s.deps.Notifier)

	var audio bool
	err := s.loop.Do(ctx, func() {
		s.local = local
		s.mesh = m
		s.coord = coord
		s.audio = m.Initialize(ctx, true)
		audio = s.audio
	})
	if err != nil {
		s.pollCancel()
		return fmt.Errorf("initialize session: %w", err)
	}

	s.wg.Add(1)
	go s.statusLoop(s.pollCtx, local.SessionID)
	if audio {
		s.wg.Add(1)
		go s.signalLoop(s.pollCtx)
	}
	log.Info().Str("module", "orch").Str("sid", string(local.SessionID)).Bool("audio", audio).Msg("session started")
	return nil
}

// Stop ends polling and releases every media resource. It does not leave
// the queue; use Leave for that.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if !s.running.Load() {
			s.loop.Stop()
			return
		}
		if s.pollCancel != nil {
			s.pollCancel()
		}
		s.wg.Wait()
		cleanup := func() {
			if s.coord != nil {
				s.coord.Reset()
			}
			if s.mesh != nil {
				s.mesh.Teardown()
			}
		}
		if err := s.loop.Do(context.Background(), cleanup); err != nil {
			// Loop already gone, nothing else can touch the state.
			cleanup()
		}
		s.loop.Stop()
		log.Info().Str("module", "orch").Msg("session stopped")
	})
}

// Done is closed once the control loop exits.
func (s *Session) Done() <-chan struct{} { return s.loop.Done() }

// Snapshot is a consistent read of the session for display.
type Snapshot struct {
	Local        domain.LocalSession
	Turn         turn.View
	Status       domain.QueueStatus
	Peers        []mesh.PeerInfo
	AudioEnabled bool
	Muted        bool
	Invalidated  bool
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap.Local = s.local
		snap.AudioEnabled = s.audio
		snap.Invalidated = s.invalidated.Load()
		if s.coord != nil {
			snap.Turn = s.coord.View()
			snap.Status = s.coord.Last()
		}
		if s.mesh != nil {
			snap.Peers = s.mesh.Peers()
			snap.Muted = s.mesh.Muted()
		}
	})
	return snap, err
}

var errNotRunning = errors.New("session not running")

// do runs fn on the loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	if !s.running.Load() {
		return errNotRunning
	}
	return s.loop.Do(ctx, fn)
}
