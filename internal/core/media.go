package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/avrek/voxcall/internal/domain"
)

// NegotiationState is the subset of SDP signaling states the session
// machine cares about.
type NegotiationState int

const (
	NegotiationStable NegotiationState = iota
	NegotiationHaveLocalOffer
	NegotiationHaveRemoteOffer
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationHaveLocalOffer:
		return "have-local-offer"
	case NegotiationHaveRemoteOffer:
		return "have-remote-offer"
	default:
		return "stable"
	}
}

// PeerLink is the one-to-one media connection for a single call.
// Exclusively owned by one session; Close stops all sender tracks.
type PeerLink interface {
	// CreateOffer creates a local offer and applies it as the local
	// description, returning the SDP to send to the peer.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer does the same for an answer; only valid while the
	// link holds a remote offer.
	CreateAnswer(ctx context.Context) (string, error)
	ApplyRemoteOffer(sdp string) error
	ApplyRemoteAnswer(sdp string) error

	NegotiationState() NegotiationState
	HasRemoteDescription() bool

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(domain.IceCandidate) error
	// AddLocalTrack attaches a capture track; tracks already attached
	// (matched by ID) are skipped.
	AddLocalTrack(LocalTrack) error

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(domain.IceCandidate))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(RemoteTrack))

	Close()
}

// LevelSource yields unsigned 8-bit time-domain samples centered at 128,
// the shape ComputeLevel expects. Returns the number of samples written.
type LevelSource interface {
	ReadSamples(buf []byte) int
}

// CaptureDevice acquires the local microphone.
type CaptureDevice interface {
	Open(ctx context.Context) (LocalStream, error)
}

// LocalStream is the acquired capture stream.
type LocalStream interface {
	AudioTracks() []LocalTrack
	// Level taps the raw capture signal for the speaking meter.
	Level() LevelSource
	Close()
}

// LocalTrack is one capture track. SetEnabled(false) silences it without
// releasing the device.
type LocalTrack interface {
	ID() string
	SetEnabled(bool)
	Enabled() bool
	Stop()
	// WebRTC exposes the underlying pion track for the rtc adapter.
	// Fakes may return nil.
	WebRTC() webrtc.TrackLocal
}

// RemoteTrack is one track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() string
	// OnActive registers a callback fired once, when media first flows.
	OnActive(func())
	// Remote exposes the underlying pion track for concrete sinks.
	// Fakes may return nil.
	Remote() *webrtc.TrackRemote
}

// AudioSink is the output handle the presentation layer supplies.
// The session writes the composed remote stream to it and applies volume;
// it never owns the sink's lifecycle.
type AudioSink interface {
	Attach(*RemoteStream)
	SetVolume(float64)
	// Play starts playback; failures are non-fatal for the call.
	Play() error
	Detach()
	// Level taps the decoded remote signal for the speaking meter.
	Level() LevelSource
}
