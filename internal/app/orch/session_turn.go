package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/rs/zerolog/log"
)

// Submit implements turn.ActionSink. It is called on the loop and reports
// back there.
func (s *Session) Submit(action domain.QueueAction, done func(error)) {
	sid := s.local.SessionID
	if !sid.Valid() {
		done(fmt.Errorf("submit %s: no session", action))
		return
	}
	ctx := s.pollCtx
	go func() {
		actx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
		defer cancel()
		err := s.deps.Queue.Action(actx, sid, action)
		s.loop.Post(func() { done(err) })
	}()
}

// StartTurn, SkipTurn and FinishTurn are the operator's controls. They
// return turn.ErrInvalidAction when the current state does not allow them.
func (s *Session) StartTurn(ctx context.Context) error {
	return s.onLoop(ctx, func() error { return s.coord.Start() })
}

func (s *Session) SkipTurn(ctx context.Context) error {
	return s.onLoop(ctx, func() error { return s.coord.Skip() })
}

func (s *Session) FinishTurn(ctx context.Context) error {
	return s.onLoop(ctx, func() error { return s.coord.Finish() })
}

// Leave removes the participant from the queue and stops the session.
func (s *Session) Leave(ctx context.Context) error {
	var sid domain.SessionID
	if err := s.do(ctx, func() { sid = s.local.SessionID }); err != nil {
		return err
	}
	s.Stop()
	if !sid.Valid() {
		return nil
	}
	if err := s.deps.Queue.Leave(ctx, sid); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("left queue")
	return nil
}

func (s *Session) onLoop(ctx context.Context, fn func() error) error {
	var err error
	if derr := s.do(ctx, func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}
