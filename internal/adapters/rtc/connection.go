package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigWithServers builds a configuration from plain STUN/TURN URLs,
// falling back to the default when none are given.
func ConfigWithServers(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// PeerConnection adapts a pion peer connection to the session's link
// contract. One per call; a new call gets a new connection.
type PeerConnection struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	added   map[string]bool
	onICE   func(domain.IceCandidate)
	onTrack func(core.RemoteTrack)
	closed  bool
}

func NewPeerConnection(cfg webrtc.Configuration) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	c := &PeerConnection{pc: pc, added: make(map[string]bool)}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn == nil {
			return
		}
		init := cand.ToJSON()
		fn(domain.IceCandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		rt := newRemoteTrack(track)
		go rt.watchReceiver(receiver)

		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(rt)
		}
	})

	return c, nil
}

func (c *PeerConnection) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *PeerConnection) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *PeerConnection) ApplyRemoteOffer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

func (c *PeerConnection) ApplyRemoteAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (c *PeerConnection) NegotiationState() core.NegotiationState {
	switch c.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		return core.NegotiationHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return core.NegotiationHaveRemoteOffer
	default:
		return core.NegotiationStable
	}
}

func (c *PeerConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *PeerConnection) AddICECandidate(ice domain.IceCandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     ice.Candidate,
		SDPMid:        ice.SDPMid,
		SDPMLineIndex: ice.SDPMLineIndex,
	})
}

func (c *PeerConnection) AddLocalTrack(track core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.added[track.ID()] {
		return nil
	}
	local := track.WebRTC()
	if local == nil {
		return nil
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return err
	}
	c.added[track.ID()] = true
	c.senders = append(c.senders, sender)

	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *PeerConnection) OnICECandidate(fn func(domain.IceCandidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *PeerConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *PeerConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	senders := c.senders
	c.senders = nil
	c.mu.Unlock()

	for _, s := range senders {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("sender stop")
		}
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Msg("closed")
	}
}

// remoteTrack wraps a pion remote track and reports the first sign of
// inbound media.
type remoteTrack struct {
	track *webrtc.TrackRemote

	mu     sync.Mutex
	active bool
	fn     func()
}

func newRemoteTrack(track *webrtc.TrackRemote) *remoteTrack {
	return &remoteTrack{track: track}
}

func (t *remoteTrack) ID() string   { return t.track.ID() }
func (t *remoteTrack) Kind() string { return t.track.Kind().String() }

func (t *remoteTrack) Remote() *webrtc.TrackRemote { return t.track }

func (t *remoteTrack) OnActive(fn func()) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		fn()
		return
	}
	t.fn = fn
	t.mu.Unlock()
}

// watchReceiver drains receiver RTCP; the first successful read means
// the peer is sending.
func (t *remoteTrack) watchReceiver(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	fired := false
	for {
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
		if !fired {
			fired = true
			t.markActive()
		}
	}
}

func (t *remoteTrack) markActive() {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	fn := t.fn
	t.fn = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
