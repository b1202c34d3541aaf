package core

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ErrUnsupported is returned by Capture when the host has no audio input.
var ErrUnsupported = errors.New("audio capture unsupported")

// Executor runs closures on the single control goroutine.
type Executor interface {
	Post(func())
}

// MediaConnection is one direct audio link to a remote participant.
type MediaConnection interface {
	// AddLocalTrack attaches the shared capture track.
	AddLocalTrack(webrtc.TrackLocal) error
	// CreateAndSetOffer produces an offer and commits it as the local description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer commits a remote offer and returns the committed local answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// Close should stop all underlying media resources.
	Close() error
}

// ConnectionEvents receives per-connection notifications. Implementations of
// ConnectionFactory deliver them through the Executor, never concurrently.
type ConnectionEvents interface {
	OnRemoteTrack(peer domain.SessionID, track *webrtc.TrackRemote)
	OnLocalCandidate(peer domain.SessionID, candidate webrtc.ICECandidateInit)
	OnConnectionStateChange(peer domain.SessionID, state webrtc.PeerConnectionState)
}

type ConnectionFactory interface {
	NewConnection(peer domain.SessionID, events ConnectionEvents) (MediaConnection, error)
}

// LocalTrack is the captured microphone track shared by every connection.
type LocalTrack interface {
	Track() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	// Stop releases the capture device.
	Stop()
}

type Capture interface {
	Open(ctx context.Context, constraints domain.AudioConstraints) (LocalTrack, error)
}

// Playback routes remote tracks to the local output.
type Playback interface {
	Attach(peer domain.SessionID, track *webrtc.TrackRemote)
	Detach(peer domain.SessionID)
	Close()
}
