package mesh

import (
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// peer is the record for one connection. It is also the connection's event
// sink, so events from a connection that was since replaced are ignored.
type peer struct {
	m          *Manager
	id         domain.SessionID
	role       domain.NegotiationRole
	conn       core.MediaConnection
	state      webrtc.PeerConnectionState
	remoteSet  bool
	candidates int
	createdAt  time.Time
	closed     bool
}

func (p *peer) live() bool {
	return !p.closed && p.m.peers[p.id] == p
}

func (p *peer) close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("close connection")
		}
	}
	if p.m.playback != nil {
		p.m.playback.Detach(p.id)
	}
}

func (p *peer) OnRemoteTrack(id domain.SessionID, track *webrtc.TrackRemote) {
	if !p.live() {
		return
	}
	log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("remote audio attached")
	if p.m.playback != nil {
		p.m.playback.Attach(id, track)
	}
}

func (p *peer) OnLocalCandidate(id domain.SessionID, c webrtc.ICECandidateInit) {
	if !p.live() {
		return
	}
	p.m.send(id, domain.SignalICECandidate, c)
}

func (p *peer) OnConnectionStateChange(id domain.SessionID, state webrtc.PeerConnectionState) {
	if !p.live() {
		return
	}
	p.state = state
	log.Debug().Str("module", "mesh").Str("peer", string(id)).Str("state", state.String()).Msg("connection state")
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		// Dropping the record lets the next roster pass offer again.
		log.Warn().Str("module", "mesh").Str("peer", string(id)).Str("state", state.String()).Msg("connection lost")
		p.m.RemovePeer(id)
	}
}
