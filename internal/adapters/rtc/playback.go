package rtc

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Playback drains every remote track. With Dir set each peer is recorded to
// <Dir>/<peer>.ogg; otherwise packets are read and discarded.
type Playback struct {
	dir string

	mu    sync.Mutex
	sinks map[domain.SessionID]*sink
}

var _ core.Playback = (*Playback)(nil)

func NewPlayback(dir string) *Playback {
	return &Playback{dir: dir, sinks: make(map[domain.SessionID]*sink)}
}

type packetWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type sink struct {
	cancel context.CancelFunc
}

func (p *Playback) Attach(peer domain.SessionID, track *webrtc.TrackRemote) {
	if track == nil {
		return
	}
	logger := log.With().Str("module", "playback").Str("peer", string(peer)).Logger()

	var w packetWriter
	if p.dir != "" {
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			logger.Error().Err(err).Msg("create recording dir")
		} else if ow, err := oggwriter.New(filepath.Join(p.dir, string(peer)+".ogg"), 48000, 2); err != nil {
			logger.Error().Err(err).Msg("open recording")
		} else {
			w = ow
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if old, ok := p.sinks[peer]; ok {
		logger.Info().Msg("replacing existing playback")
		old.cancel()
	}
	p.sinks[peer] = &sink{cancel: cancel}
	p.mu.Unlock()

	logger.Info().Msg("starting playback loop")
	go drain(ctx, track, w, &logger)
}

func (p *Playback) Detach(peer domain.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sinks[peer]; ok {
		s.cancel()
		delete(p.sinks, peer)
	}
}

func (p *Playback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for peer, s := range p.sinks {
		s.cancel()
		delete(p.sinks, peer)
	}
}

// drain reads RTP until the track ends or ctx is cancelled. ReadRTP only
// returns once the owning connection closes, so cancellation is observed
// between packets.
func drain(ctx context.Context, src *webrtc.TrackRemote, w packetWriter, logger *zerolog.Logger) {
	defer func() {
		if w != nil {
			if err := w.Close(); err != nil {
				logger.Debug().Err(err).Msg("close recording")
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("playback ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("playback read RTP ended")
			return
		}
		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("recording write failed, discarding further packets")
			w.Close()
			w = nil
		}
	}
}
