package mesh

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PollSignals drains the mailbox and dispatches what it got in arrival order.
func (m *Manager) PollSignals(ctx context.Context) error {
	envs, err := m.mailbox.FetchSignals(ctx, m.cfg.Self)
	if err != nil {
		return fmt.Errorf("fetch signals: %w", err)
	}
	if len(envs) == 0 {
		return nil
	}
	m.exec.Post(func() {
		for _, env := range envs {
			m.HandleInboundSignal(env)
		}
	})
	return nil
}

// HandleInboundSignal dispatches one envelope by kind.
func (m *Manager) HandleInboundSignal(env domain.Envelope) {
	if m.local == nil || env.From == m.cfg.Self || !env.From.Valid() {
		return
	}
	switch env.Kind {
	case domain.SignalOffer:
		m.handleOffer(env)
	case domain.SignalAnswer:
		m.handleAnswer(env)
	case domain.SignalICECandidate:
		m.handleCandidate(env)
	default:
		log.Warn().Str("module", "mesh").Str("from", string(env.From)).Str("type", string(env.Kind)).Msg("unknown signal type")
	}
}

func (m *Manager) handleOffer(env domain.Envelope) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Data, &sd); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("from", string(env.From)).Msg("bad offer payload")
		return
	}
	sd.Type = webrtc.SDPTypeOffer

	if p, ok := m.peers[env.From]; ok {
		if p.role == domain.RoleInitiator && !p.remoteSet {
			// Both sides offered. The smaller session id answers.
			if m.cfg.Self > env.From {
				log.Debug().Str("module", "mesh").Str("peer", string(env.From)).Msg("glare, keeping own offer")
				return
			}
			log.Debug().Str("module", "mesh").Str("peer", string(env.From)).Msg("glare, yielding to remote offer")
		} else {
			log.Info().Str("module", "mesh").Str("peer", string(env.From)).Msg("peer renegotiating, replacing connection")
		}
		m.RemovePeer(env.From)
	}

	p, err := m.newPeer(env.From, domain.RoleResponder)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(env.From)).Msg("inbound connection abandoned")
		return
	}
	answer, err := p.conn.ApplyOfferAndCreateAnswer(sd)
	if err != nil {
		m.abandon(p, "answer offer", err)
		return
	}
	p.remoteSet = true
	m.send(env.From, domain.SignalAnswer, answer)
	log.Info().Str("module", "mesh").Str("peer", string(env.From)).Msg("answer sent")
}

func (m *Manager) handleAnswer(env domain.Envelope) {
	p, ok := m.peers[env.From]
	if !ok || p.role != domain.RoleInitiator || p.remoteSet {
		log.Debug().Str("module", "mesh").Str("from", string(env.From)).Msg("unexpected answer discarded")
		return
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Data, &sd); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("from", string(env.From)).Msg("bad answer payload")
		return
	}
	sd.Type = webrtc.SDPTypeAnswer
	if err := p.conn.ApplyAnswer(sd); err != nil {
		m.abandon(p, "apply answer", err)
		return
	}
	p.remoteSet = true
}

func (m *Manager) handleCandidate(env domain.Envelope) {
	p, ok := m.peers[env.From]
	if !ok {
		log.Debug().Str("module", "mesh").Str("from", string(env.From)).Msg("candidate for unknown peer dropped")
		return
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Data, &c); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("from", string(env.From)).Msg("bad candidate payload")
		return
	}
	if err := p.conn.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(env.From)).Msg("add ice candidate")
		return
	}
	p.candidates++
}

func (m *Manager) send(to domain.SessionID, kind domain.SignalKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(to)).Msg("encode signal")
		return
	}
	m.sender.Send(domain.Envelope{From: m.cfg.Self, To: to, Kind: kind, Data: data})
}
