package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
	"github.com/avrek/voxcall/internal/observe"
)

// User-visible error strings. The presentation layer renders them as-is.
const (
	errMicDenied    = "Microphone access denied"
	errSetupFailed  = "Failed to setup call"
	errOfferFailed  = "Failed to handle remote offer"
	errAnswerFailed = "Failed to apply remote answer"
	errSetupTimeout = "Call setup timed out"
)

// maxPendingIce bounds the pre-description candidate queue. Real calls
// produce a handful of candidates; hitting the bound means the remote
// description is never coming and the oldest entries are expendable.
const maxPendingIce = 64

// DefaultSetupTimeout bounds how long a session may sit in a
// pre-connected state before recording a timeout error.
const DefaultSetupTimeout = 30 * time.Second

// LinkFactory builds the media connection for one call attempt.
type LinkFactory func(ctx context.Context) (core.PeerLink, error)

// Session drives one peer-to-peer voice call: media acquisition,
// offer/answer exchange, trickled ICE with queuing, speaking meters,
// mute and volume, and teardown. One Session instance serves the whole
// process; Init re-arms it for a fresh call id after Cleanup.
type Session struct {
	registry *Registry
	capture  core.CaptureDevice
	nav      core.Navigator
	links    LinkFactory

	setupTimeout time.Duration

	// Read-only projections for the presentation layer.
	Connecting       *observe.Value[bool]
	Err              *observe.Value[string]
	IsLocalSpeaking  *observe.Value[bool]
	IsRemoteSpeaking *observe.Value[bool]
	IsMuted          *observe.Value[bool]
	RemoteVolume     *observe.Value[float64]
	ShowVolumeSlider *observe.Value[bool]

	mu    sync.Mutex
	gen   int // bumped by Init and Cleanup; stale async chains compare and bail
	state SessionState

	callID domain.CallID
	peerID domain.UserID

	link       core.PeerLink
	local      core.LocalStream
	remote     *core.RemoteStream
	sink       core.AudioSink
	pendingIce []domain.IceCandidate
	subs       []*Subscription
	setupTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	meter *levelMeter
}

func NewSession(registry *Registry, capture core.CaptureDevice, nav core.Navigator, links LinkFactory) *Session {
	s := &Session{
		registry:         registry,
		capture:          capture,
		nav:              nav,
		links:            links,
		setupTimeout:     DefaultSetupTimeout,
		Connecting:       observe.NewValue(false),
		Err:              observe.NewValue(""),
		IsLocalSpeaking:  observe.NewValue(false),
		IsRemoteSpeaking: observe.NewValue(false),
		IsMuted:          observe.NewValue(false),
		RemoteVolume:     observe.NewValue(1.0),
		ShowVolumeSlider: observe.NewValue(false),
		state:            StateIdle,
		remote:           core.NewRemoteStream(),
	}
	s.meter = newLevelMeter(
		func() bool { return s.IsMuted.Get() },
		func(v bool) { s.IsLocalSpeaking.Set(v) },
		func(v bool) { s.IsRemoteSpeaking.Set(v) },
	)
	return s
}

// SetSetupTimeout overrides the pre-connected deadline; zero disables it.
func (s *Session) SetSetupTimeout(d time.Duration) {
	s.mu.Lock()
	s.setupTimeout = d
	s.mu.Unlock()
}

// State returns the current machine state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the call the session is currently armed for.
func (s *Session) CallID() domain.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Init arms the session for one call. Any prior connection is torn down
// first; all per-call state resets. The sink is the output handle the
// presentation layer supplies; the session never owns its lifecycle.
func (s *Session) Init(ctx context.Context, callID domain.CallID, peerID domain.UserID, isCaller bool, sink core.AudioSink) {
	s.Cleanup()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.callID = callID
	s.peerID = peerID
	s.sink = sink
	s.remote = core.NewRemoteStream()
	s.pendingIce = nil
	s.ctx, s.cancel = context.WithCancel(ctx)
	if !s.transitionLocked(StateInitializing) {
		// Only Idle and Closed lead here; both always permit it.
		s.state = StateInitializing
	}
	timeout := s.setupTimeout
	s.mu.Unlock()

	s.Connecting.Set(true)
	s.Err.Set("")
	s.IsLocalSpeaking.Set(false)
	s.IsRemoteSpeaking.Set(false)
	s.IsMuted.Set(false)
	s.RemoteVolume.Set(1.0)
	s.ShowVolumeSlider.Set(false)

	s.registerSignalingHandlers(gen, callID)

	if timeout > 0 {
		s.mu.Lock()
		s.setupTimer = time.AfterFunc(timeout, func() { s.onSetupTimeout(gen) })
		s.mu.Unlock()
	}

	log.Info().Str("module", "app.session").Str("call_id", string(callID)).
		Str("peer", string(peerID)).Bool("is_caller", isCaller).Msg("session init")

	go func() {
		if err := s.setupLink(gen, isCaller); err != nil {
			log.Error().Err(err).Str("module", "app.session").Msg("link setup failed")
		}
	}()
}

// ToggleMute flips the mute flag and gates every local track. Muting
// drops the local speaking flag immediately rather than waiting for the
// next meter tick.
func (s *Session) ToggleMute() {
	muted := !s.IsMuted.Get()
	s.IsMuted.Set(muted)

	s.mu.Lock()
	local := s.local
	s.mu.Unlock()

	if local != nil {
		for _, track := range local.AudioTracks() {
			track.SetEnabled(!muted)
		}
	}

	if muted {
		s.IsLocalSpeaking.Set(false)
	}
	log.Info().Str("module", "app.session").Bool("muted", muted).Msg("toggle mute")
}

func (s *Session) ToggleVolumeSlider() {
	s.ShowVolumeSlider.Set(!s.ShowVolumeSlider.Get())
}

// OnVolumeChange clamps value to [0,1], stores it, and applies it to the
// attached sink.
func (s *Session) OnVolumeChange(value float64) {
	clamped := value
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 1 {
		clamped = 1
	}
	s.RemoteVolume.Set(clamped)

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.SetVolume(clamped)
	}
}

// Hangup notifies the peer when a call is known, then always tears down
// and leaves the call screen.
func (s *Session) Hangup() {
	s.mu.Lock()
	callID, peerID := s.callID, s.peerID
	s.mu.Unlock()

	if callID != "" && peerID != "" {
		if err := s.registry.SendHangup(callID, peerID); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("send hangup failed")
		}
	}

	s.Cleanup()
	s.registry.ClearActiveCall()
	s.nav.ToRoot()
}

// Cleanup releases everything the session holds: signaling handlers, the
// media connection and its sender tracks, the capture stream, the pending
// ICE queue, the meter loop, and the sink attachment. Idempotent; safe to
// call when nothing is active, and never panics on already-released
// internals. In-flight async chains from before the call observe the
// generation bump and discard their results.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.gen++
	subs := s.subs
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
	link := s.link
	s.link = nil
	local := s.local
	s.local = nil
	sink := s.sink
	s.sink = nil
	s.remote = core.NewRemoteStream()
	s.pendingIce = nil
	s.callID = ""
	s.peerID = ""
	if s.state != StateIdle {
		s.state = StateClosed
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	if link != nil {
		link.Close()
	}
	if local != nil {
		for _, track := range local.AudioTracks() {
			track.Stop()
		}
		local.Close()
	}
	s.meter.Stop()
	if sink != nil {
		sink.Detach()
	}
	s.Connecting.Set(false)
}

// genIs reports whether the session is still on the given attempt.
func (s *Session) genIs(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// transitionLocked moves the machine if the transition table allows it.
// Callers hold s.mu.
func (s *Session) transitionLocked(to SessionState) bool {
	if !canTransition(s.state, to) {
		log.Debug().Str("module", "app.session").
			Str("from", s.state.String()).Str("to", to.String()).Msg("transition rejected")
		return false
	}
	s.state = to
	return true
}

// fail records a user-visible error without tearing the session down.
func (s *Session) fail(gen int, msg string, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateFailed)
	s.mu.Unlock()

	log.Error().Err(err).Str("module", "app.session").Str("user_error", msg).Msg("session error")
	s.Err.Set(msg)
	s.Connecting.Set(false)
}

func (s *Session) onSetupTimeout(gen int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateInitializing, StateAwaitingOffer, StateAnswering, StateAwaitingAnswer:
		s.transitionLocked(StateFailed)
		callID := s.callID
		s.mu.Unlock()
		log.Warn().Str("module", "app.session").Str("call_id", string(callID)).Msg("setup timed out")
		s.Err.Set(errSetupTimeout)
		s.Connecting.Set(false)
	default:
		s.mu.Unlock()
	}
}

// markConnected flips the machine and the connecting flag once media or
// negotiation confirms the link is live.
func (s *Session) markConnected(gen int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.state != StateConnected {
		s.transitionLocked(StateConnected)
	}
	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
	s.mu.Unlock()
	s.Connecting.Set(false)
}
