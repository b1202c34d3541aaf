// Package mesh maintains direct audio links to every other member of the
// local sub-group, using the polled mailbox as its only signaling channel.
//
// All Manager methods except DiscoverPeers and PollSignals must run on the
// control goroutine; those two do their I/O on the caller's goroutine and
// hop back through the executor.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Self        domain.SessionID
	SubGroup    domain.SubGroupName
	Constraints domain.AudioConstraints
}

type Manager struct {
	cfg      Config
	exec     core.Executor
	mailbox  core.Mailbox
	sender   core.SignalSender
	factory  core.ConnectionFactory
	capture  core.Capture
	playback core.Playback
	now      func() time.Time

	local core.LocalTrack
	muted bool
	torn  bool
	peers map[domain.SessionID]*peer
}

func NewManager(
	cfg Config,
	exec core.Executor,
	mailbox core.Mailbox,
	sender core.SignalSender,
	factory core.ConnectionFactory,
	capture core.Capture,
	playback core.Playback,
) *Manager {
	return &Manager{
		cfg:      cfg,
		exec:     exec,
		mailbox:  mailbox,
		sender:   sender,
		factory:  factory,
		capture:  capture,
		playback: playback,
		now:      time.Now,
		muted:    true,
		peers:    make(map[domain.SessionID]*peer),
	}
}

// Initialize acquires local capture. A false result means audio is
// unavailable on this host; the rest of the client keeps working.
func (m *Manager) Initialize(ctx context.Context, startMuted bool) bool {
	if m.torn {
		return false
	}
	if m.local != nil {
		return true
	}
	track, err := m.capture.Open(ctx, m.cfg.Constraints)
	if err != nil {
		ev := log.Warn().Err(err).Str("module", "mesh")
		if errors.Is(err, core.ErrUnsupported) {
			ev.Msg("audio capture unsupported, continuing without audio")
		} else {
			ev.Msg("audio capture failed, continuing without audio")
		}
		return false
	}
	m.local = track
	m.muted = startMuted
	track.SetEnabled(!startMuted)
	log.Info().Str("module", "mesh").Str("sid", string(m.cfg.Self)).Bool("muted", startMuted).Msg("local audio ready")
	return true
}

// AudioEnabled reports whether capture was acquired.
func (m *Manager) AudioEnabled() bool { return m.local != nil }

// SetMuted toggles transmission on the shared track. Connections are left alone.
func (m *Manager) SetMuted(muted bool) {
	if m.local == nil {
		return
	}
	m.muted = muted
	m.local.SetEnabled(!muted)
	log.Debug().Str("module", "mesh").Bool("muted", muted).Msg("local track toggled")
}

func (m *Manager) Muted() bool { return m.muted }

// DiscoverPeers fetches the sub-group roster and reconciles the mesh with it.
func (m *Manager) DiscoverPeers(ctx context.Context) error {
	requested := m.now()
	peers, err := m.mailbox.Peers(ctx, m.cfg.SubGroup)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}
	m.exec.Post(func() { m.ApplyRoster(peers, requested) })
	return nil
}

// ApplyRoster offers to every listed peer we have no connection with and
// drops connections to peers no longer listed. Connections created after
// requested are newer than the roster and are kept.
func (m *Manager) ApplyRoster(roster []domain.Peer, requested time.Time) {
	if m.local == nil {
		return
	}
	listed := make(map[domain.SessionID]struct{}, len(roster))
	for _, p := range roster {
		if p.SessionID == m.cfg.Self || !p.SessionID.Valid() {
			continue
		}
		listed[p.SessionID] = struct{}{}
		if _, ok := m.peers[p.SessionID]; !ok {
			m.EstablishOutbound(p.SessionID)
		}
	}
	for id, p := range m.peers {
		if _, ok := listed[id]; ok || !p.createdAt.Before(requested) {
			continue
		}
		log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("peer left roster")
		m.RemovePeer(id)
	}
}

// EstablishOutbound creates a connection to id as the offering side.
func (m *Manager) EstablishOutbound(id domain.SessionID) {
	if m.local == nil || id == m.cfg.Self {
		return
	}
	if _, ok := m.peers[id]; ok {
		return
	}
	p, err := m.newPeer(id, domain.RoleInitiator)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("outbound connection abandoned")
		return
	}
	offer, err := p.conn.CreateAndSetOffer()
	if err != nil {
		m.abandon(p, "create offer", err)
		return
	}
	m.send(id, domain.SignalOffer, offer)
	log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("offer sent")
}

func (m *Manager) newPeer(id domain.SessionID, role domain.NegotiationRole) (*peer, error) {
	p := &peer{m: m, id: id, role: role, createdAt: m.now(), state: webrtc.PeerConnectionStateNew}
	conn, err := m.factory.NewConnection(id, p)
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}
	p.conn = conn
	m.peers[id] = p
	if err := conn.AddLocalTrack(m.local.Track()); err != nil {
		m.abandon(p, "add local track", err)
		return nil, err
	}
	return p, nil
}

// RemovePeer closes and forgets the connection to id.
func (m *Manager) RemovePeer(id domain.SessionID) {
	p, ok := m.peers[id]
	if !ok {
		return
	}
	delete(m.peers, id)
	p.close()
}

func (m *Manager) abandon(p *peer, step string, err error) {
	log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Str("role", p.role.String()).Str("step", step).Msg("negotiation failed, abandoning peer")
	if m.peers[p.id] == p {
		delete(m.peers, p.id)
	}
	p.close()
}

// Teardown closes every connection, releases playback and capture and
// clears all records. Safe to call repeatedly or before Initialize.
func (m *Manager) Teardown() {
	if m.torn {
		return
	}
	m.torn = true
	for id, p := range m.peers {
		delete(m.peers, id)
		p.close()
	}
	if m.playback != nil {
		m.playback.Close()
	}
	if m.local != nil {
		m.local.Stop()
		m.local = nil
	}
	m.muted = true
	log.Info().Str("module", "mesh").Str("sid", string(m.cfg.Self)).Msg("mesh torn down")
}

// PeerInfo is a read-only view of one connection.
type PeerInfo struct {
	ID         domain.SessionID
	Role       domain.NegotiationRole
	State      webrtc.PeerConnectionState
	Negotiated bool
}

func (m *Manager) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, PeerInfo{ID: p.id, Role: p.role, State: p.state, Negotiated: p.remoteSet})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
