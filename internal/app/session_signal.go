package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
)

var errTornDown = errors.New("session torn down")

// registerSignalingHandlers scopes the four inbound kinds to one call id.
// Events for other call ids are ignored: not queued, not errors.
func (s *Session) registerSignalingHandlers(gen int, callID domain.CallID) {
	subs := []*Subscription{
		s.registry.OnOffer(func(o domain.Offer) {
			if o.CallID != callID {
				return
			}
			s.handleRemoteOffer(gen, o)
		}),
		s.registry.OnAnswer(func(a domain.Answer) {
			if a.CallID != callID {
				return
			}
			s.handleRemoteAnswer(gen, a)
		}),
		s.registry.OnICE(func(ice domain.IceCandidate) {
			if ice.CallID != callID {
				return
			}
			s.handleRemoteIce(gen, ice)
		}),
		s.registry.OnHangup(func(h domain.Hangup) {
			if h.CallID != callID {
				return
			}
			s.handleRemoteHangup(gen)
		}),
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Cancel()
		}
		return
	}
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

// ensureLinkLocked creates the media connection on first use and wires
// its callbacks. Callers hold s.mu.
func (s *Session) ensureLinkLocked(gen int) (core.PeerLink, error) {
	if s.link != nil {
		return s.link, nil
	}
	if s.ctx == nil {
		return nil, errTornDown
	}
	link, err := s.links(s.ctx)
	if err != nil {
		return nil, err
	}

	callID, peerID := s.callID, s.peerID
	// Local candidates go out per-candidate, fire-and-forget. No
	// batching; delivery beyond the transport's own retry is not our
	// problem.
	link.OnICECandidate(func(cand domain.IceCandidate) {
		if err := s.registry.SendIceCandidate(callID, peerID, cand); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("send ICE candidate failed")
		}
	})
	link.OnTrack(func(rt core.RemoteTrack) {
		s.onRemoteTrack(gen, rt)
	})

	s.link = link
	return link, nil
}

// setupLink builds the connection for this attempt. Callers acquire the
// microphone, create an offer and send it; callees park in AwaitingOffer.
func (s *Session) setupLink(gen int, isCaller bool) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	if s.link != nil {
		// Init is responsible for tearing the old one down, not us.
		log.Warn().Str("module", "app.session").Msg("link already exists, skipping setup")
		s.mu.Unlock()
		return nil
	}
	link, err := s.ensureLinkLocked(gen)
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, errSetupFailed, err)
		return err
	}
	ctx := s.ctx
	s.mu.Unlock()

	if !isCaller {
		s.mu.Lock()
		if s.gen == gen {
			s.transitionLocked(StateAwaitingOffer)
		}
		s.mu.Unlock()
		log.Info().Str("module", "app.session").Msg("callee ready, awaiting offer")
		return nil
	}

	local, err := s.ensureLocalStream(gen)
	if err != nil {
		s.fail(gen, errMicDenied, err)
		return err
	}
	s.attachLocalTracks(gen, local)

	sdp, err := link.CreateOffer(ctx)
	if err != nil {
		s.fail(gen, errSetupFailed, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.transitionLocked(StateAwaitingAnswer)
	callID, peerID := s.callID, s.peerID
	s.mu.Unlock()

	if err := s.registry.SendOffer(callID, peerID, sdp); err != nil {
		s.fail(gen, errSetupFailed, err)
		return err
	}
	log.Info().Str("module", "app.session").Str("call_id", string(callID)).Msg("offer sent")
	// Connecting stays true until remote media arrives.
	return nil
}

// ensureLocalStream acquires the microphone once per session. The open
// may suspend indefinitely; if the session was torn down meanwhile the
// freshly acquired stream is stopped and discarded.
func (s *Session) ensureLocalStream(gen int) (core.LocalStream, error) {
	s.mu.Lock()
	if s.local != nil {
		local := s.local
		s.mu.Unlock()
		return local, nil
	}
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return nil, errTornDown
	}

	local, err := s.capture.Open(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen != gen || s.link == nil {
		s.mu.Unlock()
		for _, track := range local.AudioTracks() {
			track.Stop()
		}
		local.Close()
		return nil, errTornDown
	}
	s.local = local
	s.mu.Unlock()
	return local, nil
}

func (s *Session) attachLocalTracks(gen int, local core.LocalStream) {
	s.mu.Lock()
	if s.gen != gen || s.link == nil {
		s.mu.Unlock()
		return
	}
	link := s.link
	s.mu.Unlock()

	// Mute may have been toggled while the microphone open was still
	// suspended; the flag wins over the track's initial state.
	enabled := !s.IsMuted.Get()
	for _, track := range local.AudioTracks() {
		track.SetEnabled(enabled)
		if err := link.AddLocalTrack(track); err != nil {
			log.Error().Err(err).Str("module", "app.session").Str("track_id", track.ID()).Msg("add local track failed")
		}
	}
	s.meter.AttachLocal(local.Level())
	s.meter.Start()
}

// onRemoteTrack composes arriving tracks into the remote stream, feeds
// the sink, and treats first media as proof the link is live.
func (s *Session) onRemoteTrack(gen int, rt core.RemoteTrack) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	remote := s.remote
	sink := s.sink
	s.mu.Unlock()

	log.Info().Str("module", "app.session").Str("track_id", rt.ID()).
		Str("kind", rt.Kind()).Msg("remote track")

	remote.AddTrack(rt)
	rt.OnActive(func() {
		// Immediate signal; the meter refines it on later ticks.
		if s.genIs(gen) {
			s.IsRemoteSpeaking.Set(true)
		}
	})

	if sink != nil {
		sink.Attach(remote)
		sink.SetVolume(s.RemoteVolume.Get())
		if err := sink.Play(); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("remote playback failed")
		}
		s.meter.AttachRemote(sink.Level())
		s.meter.Start()
	}

	s.markConnected(gen)
}

// handleRemoteOffer runs the callee side of negotiation. The transition
// into Answering is the one-shot guard: duplicate offers from
// at-least-once delivery find the machine already past AwaitingOffer and
// are dropped without restarting negotiation.
func (s *Session) handleRemoteOffer(gen int, o domain.Offer) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if !s.transitionLocked(StateAnswering) {
		s.mu.Unlock()
		log.Warn().Str("module", "app.session").Str("call_id", string(o.CallID)).
			Msg("offer already handled, skipping")
		return
	}
	link, err := s.ensureLinkLocked(gen)
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, errOfferFailed, err)
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	if err := link.ApplyRemoteOffer(o.SDP); err != nil {
		s.fail(gen, errOfferFailed, err)
		return
	}

	local, err := s.ensureLocalStream(gen)
	if err != nil {
		s.fail(gen, errMicDenied, err)
		return
	}
	s.attachLocalTracks(gen, local)

	s.flushPendingIce(gen)

	if link.NegotiationState() != core.NegotiationHaveRemoteOffer {
		// Another path advanced negotiation while we were suspended;
		// answering now would be wrong, and it is not our error.
		log.Warn().Str("module", "app.session").
			Str("state", link.NegotiationState().String()).
			Msg("unexpected negotiation state before answer")
		return
	}

	sdp, err := link.CreateAnswer(ctx)
	if err != nil {
		s.fail(gen, errOfferFailed, err)
		return
	}
	if err := s.registry.SendAnswer(o.CallID, o.FromUserID, sdp); err != nil {
		s.fail(gen, errOfferFailed, err)
		return
	}
	log.Info().Str("module", "app.session").Str("call_id", string(o.CallID)).Msg("answer sent")
	s.markConnected(gen)
}

// handleRemoteAnswer runs the caller side. Valid only while a local
// offer is outstanding; duplicate or late answers are ignored.
func (s *Session) handleRemoteAnswer(gen int, a domain.Answer) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	link := s.link
	state := s.state
	s.mu.Unlock()

	if link == nil {
		log.Warn().Str("module", "app.session").Msg("answer with no link")
		return
	}
	if state != StateAwaitingAnswer || link.NegotiationState() != core.NegotiationHaveLocalOffer {
		log.Warn().Str("module", "app.session").Str("state", state.String()).
			Str("negotiation", link.NegotiationState().String()).
			Msg("ignoring answer in unexpected state")
		return
	}

	if err := link.ApplyRemoteAnswer(a.SDP); err != nil {
		s.fail(gen, errAnswerFailed, err)
		return
	}
	s.flushPendingIce(gen)
	s.markConnected(gen)
}

// handleRemoteIce queues candidates until a remote description exists,
// then applies the queue (in arrival order) before the new candidate.
func (s *Session) handleRemoteIce(gen int, ice domain.IceCandidate) {
	if ice.Candidate == "" {
		// End-of-candidates marker.
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.link == nil || !s.link.HasRemoteDescription() {
		if len(s.pendingIce) >= maxPendingIce {
			log.Warn().Str("module", "app.session").Int("max", maxPendingIce).
				Msg("pending ICE queue full, dropping oldest")
			s.pendingIce = s.pendingIce[1:]
		}
		s.pendingIce = append(s.pendingIce, ice)
		s.mu.Unlock()
		return
	}
	link := s.link
	queued := s.pendingIce
	s.pendingIce = nil
	s.mu.Unlock()

	for _, q := range queued {
		s.applyCandidate(link, q)
	}
	s.applyCandidate(link, ice)
}

func (s *Session) flushPendingIce(gen int) {
	s.mu.Lock()
	if s.gen != gen || s.link == nil || !s.link.HasRemoteDescription() {
		s.mu.Unlock()
		return
	}
	link := s.link
	queued := s.pendingIce
	s.pendingIce = nil
	s.mu.Unlock()

	if len(queued) > 0 {
		log.Info().Str("module", "app.session").Int("count", len(queued)).Msg("flushing pending ICE")
	}
	for _, q := range queued {
		s.applyCandidate(link, q)
	}
}

func (s *Session) applyCandidate(link core.PeerLink, ice domain.IceCandidate) {
	if ice.Candidate == "" {
		return
	}
	if err := link.AddICECandidate(ice); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("add ICE candidate failed")
	}
}

// handleRemoteHangup tears down on the peer's notice and leaves the
// call screen.
func (s *Session) handleRemoteHangup(gen int) {
	if !s.genIs(gen) {
		return
	}
	log.Info().Str("module", "app.session").Msg("remote hangup")
	s.Cleanup()
	s.registry.ClearActiveCall()
	s.nav.ToRoot()
}
