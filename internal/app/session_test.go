package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type sessionFixture struct {
	session   *Session
	registry  *Registry
	transport *fakeTransport
	nav       *fakeNav
	link      *fakeLink
	capture   *fakeCapture
	sink      *fakeSink
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	transport := newFakeTransport()
	nav := &fakeNav{}
	registry := NewRegistry(transport, nav)
	require.NoError(t, registry.Connect(context.Background()))

	link := &fakeLink{}
	capture := &fakeCapture{stream: newFakeStream("mic-1")}
	session := NewSession(registry, capture, nav, func(context.Context) (core.PeerLink, error) {
		return link, nil
	})
	session.SetSetupTimeout(0)

	return &sessionFixture{
		session:   session,
		registry:  registry,
		transport: transport,
		nav:       nav,
		link:      link,
		capture:   capture,
		sink:      newFakeSink(),
	}
}

func (f *sessionFixture) initCaller(t *testing.T) {
	t.Helper()
	f.session.Init(context.Background(), "call-1", "bob", true, f.sink)
	// The offer goes out strictly after the transition to AwaitingAnswer,
	// so waiting on it covers both.
	require.Eventually(t, func() bool {
		return len(f.transport.publishedTo("/app/call/offer")) == 1
	}, waitFor, tick, "caller never sent its offer")
	require.Equal(t, StateAwaitingAnswer, f.session.State())
}

func (f *sessionFixture) initCallee(t *testing.T) {
	t.Helper()
	f.session.Init(context.Background(), "call-1", "bob", false, f.sink)
	require.Eventually(t, func() bool {
		return f.session.State() == StateAwaitingOffer
	}, waitFor, tick, "callee never armed")
}

func TestSessionCallerFlow(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	frames := f.transport.publishedTo("/app/call/offer")
	require.Len(t, frames, 1)
	var offer map[string]string
	require.NoError(t, json.Unmarshal(frames[0], &offer))
	assert.Equal(t, "call-1", offer["callId"])
	assert.Equal(t, "bob", offer["toUserId"])
	assert.Equal(t, "offer-sdp", offer["sdp"])

	assert.True(t, f.session.Connecting.Get())
	assert.Equal(t, []string{"mic-1"}, f.link.addedTracks)

	f.transport.deliver("/user/queue/call-answer", domain.Answer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-answer",
	})

	assert.Equal(t, StateConnected, f.session.State())
	assert.False(t, f.session.Connecting.Get())
}

func TestSessionCalleeFlow(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	f.transport.deliver("/user/queue/call-offer", domain.Offer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-offer",
	})

	assert.Equal(t, StateConnected, f.session.State())
	assert.False(t, f.session.Connecting.Get())

	frames := f.transport.publishedTo("/app/call/answer")
	require.Len(t, frames, 1)
	var answer map[string]string
	require.NoError(t, json.Unmarshal(frames[0], &answer))
	assert.Equal(t, "call-1", answer["callId"])
	assert.Equal(t, "bob", answer["toUserId"])
	assert.Equal(t, "answer-sdp", answer["sdp"])

	assert.Equal(t, []string{"mic-1"}, f.link.addedTracks)
}

func TestSessionDuplicateOfferAnsweredOnce(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	offer := domain.Offer{CallID: "call-1", FromUserID: "bob", SDP: "remote-offer"}
	f.transport.deliver("/user/queue/call-offer", offer)
	f.transport.deliver("/user/queue/call-offer", offer)

	assert.Len(t, f.transport.publishedTo("/app/call/answer"), 1)
	assert.Equal(t, StateConnected, f.session.State())
}

func TestSessionOfferForOtherCallIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	f.transport.deliver("/user/queue/call-offer", domain.Offer{
		CallID: "other-call", FromUserID: "bob", SDP: "remote-offer",
	})

	assert.Empty(t, f.transport.publishedTo("/app/call/answer"))
	assert.Equal(t, StateAwaitingOffer, f.session.State())
}

func TestSessionIceQueuedUntilRemoteDescription(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	ice := func(c string) domain.IceCandidate {
		return domain.IceCandidate{CallID: "call-1", FromUserID: "bob", Candidate: c}
	}
	f.transport.deliver("/user/queue/call-ice", ice("c1"))
	f.transport.deliver("/user/queue/call-ice", ice("c2"))
	assert.Empty(t, f.link.appliedCandidates())

	f.transport.deliver("/user/queue/call-offer", domain.Offer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-offer",
	})
	assert.Equal(t, []string{"c1", "c2"}, f.link.appliedCandidates())

	// With the remote description in place, candidates apply directly.
	f.transport.deliver("/user/queue/call-ice", ice("c3"))
	assert.Equal(t, []string{"c1", "c2", "c3"}, f.link.appliedCandidates())
}

func TestSessionEmptyIceCandidateSkipped(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	f.transport.deliver("/user/queue/call-ice", domain.IceCandidate{
		CallID: "call-1", FromUserID: "bob", Candidate: "",
	})
	f.transport.deliver("/user/queue/call-offer", domain.Offer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-offer",
	})

	assert.Empty(t, f.link.appliedCandidates())
}

func TestSessionPendingIceBounded(t *testing.T) {
	f := newSessionFixture(t)
	f.initCallee(t)

	for i := 0; i < maxPendingIce+5; i++ {
		f.transport.deliver("/user/queue/call-ice", domain.IceCandidate{
			CallID: "call-1", FromUserID: "bob",
			Candidate: "c" + string(rune('A'+i%26)) + string(rune('0'+i%10)),
		})
	}
	f.transport.deliver("/user/queue/call-offer", domain.Offer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-offer",
	})

	applied := f.link.appliedCandidates()
	assert.Len(t, applied, maxPendingIce)
}

func TestSessionOutboundIceUsesCallContext(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	f.link.fireICE(domain.IceCandidate{Candidate: "candidate:local"})

	frames := f.transport.publishedTo("/app/call/ice")
	require.Len(t, frames, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &payload))
	assert.Equal(t, "call-1", payload["callId"])
	assert.Equal(t, "bob", payload["toUserId"])
	assert.Equal(t, "candidate:local", payload["candidate"])
}

func TestSessionRemoteTrackConnects(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	rt := &fakeRemoteTrack{id: "remote-1"}
	f.link.fireTrack(rt)

	assert.Equal(t, StateConnected, f.session.State())
	assert.False(t, f.session.Connecting.Get())
	require.NotNil(t, f.sink.attached)
	assert.Equal(t, 1, f.sink.attached.Len())
	assert.Equal(t, 1, f.sink.plays)

	assert.False(t, f.session.IsRemoteSpeaking.Get())
	rt.activate()
	assert.True(t, f.session.IsRemoteSpeaking.Get())
}

func TestSessionRemoteHangupTearsDown(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	// A hangup for a different call must change nothing.
	f.transport.deliver("/user/queue/call-hangup", domain.Hangup{CallID: "other", FromUserID: "bob"})
	assert.Equal(t, StateAwaitingAnswer, f.session.State())

	f.registry.ActiveCall.Set(&domain.ActiveCall{CallID: "call-1", PeerID: "bob", IsCaller: true})
	f.transport.deliver("/user/queue/call-hangup", domain.Hangup{CallID: "call-1", FromUserID: "bob"})

	assert.Equal(t, StateClosed, f.session.State())
	assert.Nil(t, f.registry.ActiveCall.Get())
	assert.Equal(t, 1, f.nav.toRootCount())
	assert.True(t, f.link.closed)
}

func TestSessionHangupNotifiesPeer(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	f.session.Hangup()

	frames := f.transport.publishedTo("/app/call/hangup")
	require.Len(t, frames, 1)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(frames[0], &payload))
	assert.Equal(t, "call-1", payload["callId"])
	assert.Equal(t, "bob", payload["toUserId"])

	assert.Equal(t, StateClosed, f.session.State())
	assert.Equal(t, domain.CallID(""), f.session.CallID())
	assert.Equal(t, 1, f.nav.toRootCount())
}

func TestSessionMicDenied(t *testing.T) {
	f := newSessionFixture(t)
	f.capture.openErr = errors.New("permission denied")

	f.session.Init(context.Background(), "call-1", "bob", true, f.sink)

	require.Eventually(t, func() bool {
		return f.session.Err.Get() == "Microphone access denied"
	}, waitFor, tick)
	assert.Equal(t, StateFailed, f.session.State())
	assert.False(t, f.session.Connecting.Get())
	// Failure is recorded, not torn down; the call id survives.
	assert.Equal(t, domain.CallID("call-1"), f.session.CallID())
}

func TestSessionSetupTimeout(t *testing.T) {
	f := newSessionFixture(t)
	f.session.SetSetupTimeout(30 * time.Millisecond)

	f.session.Init(context.Background(), "call-1", "bob", false, f.sink)

	require.Eventually(t, func() bool {
		return f.session.Err.Get() == "Call setup timed out"
	}, waitFor, tick)
	assert.Equal(t, StateFailed, f.session.State())
	assert.False(t, f.session.Connecting.Get())
}

func TestSessionTimeoutDisarmedOnConnect(t *testing.T) {
	f := newSessionFixture(t)
	f.session.SetSetupTimeout(50 * time.Millisecond)

	f.session.Init(context.Background(), "call-1", "bob", true, f.sink)
	require.Eventually(t, func() bool {
		return f.session.State() == StateAwaitingAnswer
	}, waitFor, tick)

	f.transport.deliver("/user/queue/call-answer", domain.Answer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-answer",
	})
	require.Equal(t, StateConnected, f.session.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateConnected, f.session.State())
	assert.Empty(t, f.session.Err.Get())
}

func TestSessionVolumeClamped(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	f.session.OnVolumeChange(1.5)
	assert.Equal(t, 1.0, f.session.RemoteVolume.Get())
	assert.Equal(t, 1.0, f.sink.getVolume())

	f.session.OnVolumeChange(-0.3)
	assert.Equal(t, 0.0, f.session.RemoteVolume.Get())
	assert.Equal(t, 0.0, f.sink.getVolume())

	f.session.OnVolumeChange(0.4)
	assert.Equal(t, 0.4, f.session.RemoteVolume.Get())
}

func TestSessionToggleMuteTwice(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	track := f.capture.stream.tracks[0]
	require.True(t, track.Enabled())

	f.session.IsLocalSpeaking.Set(true)
	f.session.ToggleMute()
	assert.True(t, f.session.IsMuted.Get())
	assert.False(t, track.Enabled())
	assert.False(t, f.session.IsLocalSpeaking.Get())

	f.session.ToggleMute()
	assert.False(t, f.session.IsMuted.Get())
	assert.True(t, track.Enabled())
}

func TestSessionMutePersistsThroughMicAcquisition(t *testing.T) {
	f := newSessionFixture(t)
	f.capture.gate = make(chan struct{})

	f.session.Init(context.Background(), "call-1", "bob", true, f.sink)
	require.Eventually(t, func() bool {
		return f.capture.openCount() == 1
	}, waitFor, tick, "microphone open never started")

	// Mute lands while the microphone open is still in flight, so no
	// track exists yet for ToggleMute to disable.
	f.session.ToggleMute()
	require.True(t, f.session.IsMuted.Get())
	close(f.capture.gate)

	require.Eventually(t, func() bool {
		return len(f.transport.publishedTo("/app/call/offer")) == 1
	}, waitFor, tick, "caller never sent its offer")

	assert.False(t, f.capture.stream.tracks[0].Enabled())
	assert.True(t, f.session.IsMuted.Get())
}

func TestSessionCleanupIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	f.session.Cleanup()
	f.session.Cleanup()

	assert.Equal(t, StateClosed, f.session.State())
	assert.True(t, f.link.closed)
	assert.True(t, f.capture.stream.closed)
	assert.True(t, f.capture.stream.tracks[0].stopped)
	assert.GreaterOrEqual(t, f.sink.detaches, 1)
	assert.False(t, f.session.Connecting.Get())

	// Controls after teardown are harmless no-ops.
	f.session.ToggleMute()
	f.session.OnVolumeChange(0.5)
	f.session.ToggleVolumeSlider()
	f.session.Hangup()
}

func TestSessionCleanupInvalidatesStaleEvents(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)
	f.session.Cleanup()

	// Signaling from the dead call must not resurrect anything.
	f.transport.deliver("/user/queue/call-answer", domain.Answer{
		CallID: "call-1", FromUserID: "bob", SDP: "remote-answer",
	})
	f.link.fireTrack(&fakeRemoteTrack{id: "late"})

	assert.Equal(t, StateClosed, f.session.State())
	assert.Nil(t, f.sink.attached)
}

func TestSessionReinitAfterCleanup(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)
	f.session.Cleanup()

	f.link = &fakeLink{}
	f.session.links = func(context.Context) (core.PeerLink, error) { return f.link, nil }
	f.capture.stream = newFakeStream("mic-2")

	f.session.Init(context.Background(), "call-2", "carol", true, f.sink)
	require.Eventually(t, func() bool {
		return f.session.State() == StateAwaitingAnswer
	}, waitFor, tick)

	assert.Equal(t, domain.CallID("call-2"), f.session.CallID())
	assert.Equal(t, []string{"mic-2"}, f.link.addedTracks)
	assert.Empty(t, f.session.Err.Get())
}

func TestSessionLateAnswerIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.initCaller(t)

	answer := domain.Answer{CallID: "call-1", FromUserID: "bob", SDP: "remote-answer"}
	f.transport.deliver("/user/queue/call-answer", answer)
	require.Equal(t, StateConnected, f.session.State())

	// A duplicate of the same answer finds the machine already past
	// AwaitingAnswer and changes nothing.
	f.transport.deliver("/user/queue/call-answer", answer)
	assert.Equal(t, StateConnected, f.session.State())
}
