package rtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	SourceSilence = "silence"
	frameDuration = 20 * time.Millisecond
)

// Opus frame carrying 20ms of silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// Capture opens the local audio source. Source is "silence", a path to an
// Ogg/Opus file played in a loop, or empty when the host has no input.
type Capture struct {
	Source string
}

var _ core.Capture = (*Capture)(nil)

func (c *Capture) Open(ctx context.Context, constraints domain.AudioConstraints) (core.LocalTrack, error) {
	var src sampleSource
	switch c.Source {
	case "":
		return nil, core.ErrUnsupported
	case SourceSilence:
		src = silenceSource{}
	default:
		fs, err := openOggSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("open audio source: %w", err)
		}
		src = fs
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicequeue-"+uuid.NewString(),
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}

	log.Info().
		Str("module", "capture").
		Str("source", c.Source).
		Bool("echo_cancellation", constraints.EchoCancellation).
		Bool("noise_suppression", constraints.NoiseSuppression).
		Bool("auto_gain", constraints.AutoGainControl).
		Msg("capture opened")

	lt := newLocalTrack(track, src)
	go lt.pump(context.WithoutCancel(ctx))
	return lt, nil
}

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// localTrack is the single outgoing track shared by every connection.
type localTrack struct {
	track *webrtc.TrackLocalStaticSample
	src   sampleSource
	state atomic.Int32 // Zero by default (TrackStateLive)
	stop  chan struct{}
	done  chan struct{}
}

func newLocalTrack(track *webrtc.TrackLocalStaticSample, src sampleSource) *localTrack {
	lt := &localTrack{track: track, src: src, stop: make(chan struct{}), done: make(chan struct{})}
	lt.state.Store(int32(TrackStateMuted))
	return lt
}

func (lt *localTrack) Track() webrtc.TrackLocal { return lt.track }

func (lt *localTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

func (lt *localTrack) SetEnabled(on bool) {
	next := TrackStateMuted
	if on {
		next = TrackStateLive
	}
	for {
		cur := lt.state.Load()
		if TrackState(cur) == TrackStateStopped {
			return
		}
		if lt.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (lt *localTrack) Enabled() bool { return lt.GetState() == TrackStateLive }

func (lt *localTrack) Stop() {
	if TrackState(lt.state.Swap(int32(TrackStateStopped))) == TrackStateStopped {
		return
	}
	close(lt.stop)
	<-lt.done
}

// pump reads one frame per tick and writes it only while live. The source
// keeps advancing while muted so unmuting resumes in real time.
func (lt *localTrack) pump(ctx context.Context) {
	defer close(lt.done)
	defer lt.src.Close()

	t := time.NewTicker(frameDuration)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lt.stop:
			return
		case <-t.C:
		}
		sample, err := lt.src.Next()
		if err != nil {
			log.Error().Err(err).Str("module", "capture").Msg("audio source failed, stopping")
			lt.state.Store(int32(TrackStateStopped))
			return
		}
		if lt.GetState() != TrackStateLive {
			continue
		}
		if err := lt.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Err(err).Str("module", "capture").Msg("write sample")
		}
	}
}

type sampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

type silenceSource struct{}

func (silenceSource) Next() (media.Sample, error) {
	return media.Sample{Data: silenceFrame, Duration: frameDuration}, nil
}

func (silenceSource) Close() error { return nil }

// oggSource loops an Ogg/Opus file, one page per sample.
type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOggSource(path string) (*oggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &oggSource{f: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return fmt.Errorf("not an ogg/opus file: %w", err)
	}
	s.r = r
	s.lastGranule = 0
	return nil
}

func (s *oggSource) Next() (media.Sample, error) {
	for attempt := 0; attempt < 2; attempt++ {
		for {
			page, header, err := s.r.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return media.Sample{}, err
			}
			if bytes.HasPrefix(page, []byte("OpusTags")) {
				continue
			}
			samples := header.GranulePosition - s.lastGranule
			s.lastGranule = header.GranulePosition
			d := time.Duration(float64(samples) / 48000 * float64(time.Second))
			if d <= 0 {
				d = frameDuration
			}
			return media.Sample{Data: page, Duration: d}, nil
		}
		if err := s.rewind(); err != nil {
			return media.Sample{}, err
		}
	}
	return media.Sample{}, fmt.Errorf("ogg source has no audio pages")
}

func (s *oggSource) Close() error { return s.f.Close() }
