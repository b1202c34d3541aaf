package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/rs/zerolog/log"
)

// signalLoop drains the mailbox and reconciles the roster. The first tick
// runs immediately so peers present at startup get offers right away.
func (s *Session) signalLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.SignalInterval)
	defer t.Stop()
	for {
		if err := s.mesh.PollSignals(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "orch").Msg("signal poll failed")
		}
		if err := s.mesh.DiscoverPeers(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "orch").Msg("peer discovery failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Session) statusLoop(ctx context.Context, sid domain.SessionID) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.StatusInterval)
	defer t.Stop()
	failures := 0
	for {
		failures = s.pollStatus(ctx, sid, failures)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// pollStatus runs one status tick and returns the updated count of
// consecutive transport failures.
func (s *Session) pollStatus(ctx context.Context, sid domain.SessionID, failures int) int {
	if ctx.Err() != nil {
		return failures
	}
	var epoch uint64
	if err := s.loop.Do(ctx, func() { epoch = s.coord.Epoch() }); err != nil {
		return failures
	}
	st, err := s.deps.Queue.Status(ctx, sid)
	switch {
	case err == nil:
		s.loop.Post(func() { s.coord.Apply(st, epoch) })
		return 0
	case ctx.Err() != nil:
		return failures
	case errors.Is(err, core.ErrSessionInvalid):
		s.invalidate(err)
		return 0
	}

	failures++
	log.Warn().Err(err).Str("module", "orch").Int("failures", failures).Msg("status poll failed")
	if failures >= s.cfg.MaxPollFailures {
		s.invalidate(fmt.Errorf("%w: %d consecutive status failures: %v", core.ErrSessionInvalid, failures, err))
		return 0
	}
	return failures
}

// invalidate stops polling and, on the loop, resets the coordinator, tears
// down the mesh and clears the local session. Only the first call counts.
func (s *Session) invalidate(cause error) {
	if !s.invalidated.CompareAndSwap(false, true) {
		return
	}
	log.Warn().Err(cause).Str("module", "orch").Msg("session invalidated")
	s.pollCancel()
	s.loop.Post(func() {
		s.coord.Reset()
		s.mesh.Teardown()
		s.local = domain.LocalSession{}
		if s.deps.Notifier != nil {
			s.deps.Notifier.Notify(core.Notification{
				Kind:    core.NotifyInvalidated,
				Reason:  cause.Error(),
				Message: "Your session ended, please rejoin",
			})
		}
		if s.onInvalidated != nil {
			s.onInvalidated(cause)
		}
	})
}
