// Package app wires the call lifecycle: the registry that owns the shared
// call state and signaling fan-out, the per-call session machine, the
// invite notifier, and the speaking meter.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
	"github.com/avrek/voxcall/internal/observe"
)

// Outbound destinations and inbound per-user topics of the signaling
// broker. Authoritative wire surface of the call protocol.
const (
	destInvite = "/app/call/invite"
	destAccept = "/app/call/accept"
	destReject = "/app/call/reject"
	destOffer  = "/app/call/offer"
	destAnswer = "/app/call/answer"
	destIce    = "/app/call/ice"
	destHangup = "/app/call/hangup"

	topicIncomingCall = "/user/queue/incoming-call"
	topicCallAccepted = "/user/queue/call-accepted"
	topicCallRejected = "/user/queue/call-rejected"
	topicCallOffer    = "/user/queue/call-offer"
	topicCallAnswer   = "/user/queue/call-answer"
	topicCallIce      = "/user/queue/call-ice"
	topicCallHangup   = "/user/queue/call-hangup"
)

const (
	inviteLimit    = 5
	inviteInterval = 30 * time.Second
)

var ErrInviteRateLimited = errors.New("invite rate limited")

// Registry is the single source of truth for "is there a call, and what
// signaling have we seen". One instance per application session,
// dependency-injected into the session machine and the invite surface.
//
// Single-writer convention: ActiveCall is written by the dial path
// (caller) and the accept path (callee), cleared by whoever ends the
// call; CallInvite is written by the inbound-invite handler and cleared
// by CloseModal. Everyone else only reads or watches.
type Registry struct {
	transport core.SignalTransport
	nav       core.Navigator
	limiter   *InviteRateLimiter

	ActiveCall *observe.Value[*domain.ActiveCall]
	CallInvite *observe.Value[*domain.CallInvite]

	offerHandlers  handlerSet[domain.Offer]
	answerHandlers handlerSet[domain.Answer]
	iceHandlers    handlerSet[domain.IceCandidate]
	hangupHandlers handlerSet[domain.Hangup]
}

func NewRegistry(transport core.SignalTransport, nav core.Navigator) *Registry {
	return &Registry{
		transport:  transport,
		nav:        nav,
		limiter:    NewInviteRateLimiter(inviteLimit, inviteInterval),
		ActiveCall: observe.NewValue[*domain.ActiveCall](nil),
		CallInvite: observe.NewValue[*domain.CallInvite](nil),
	}
}

// Connect subscribes the per-user call topics and dials the broker.
// Reconnects and redelivery are the transport's business.
func (r *Registry) Connect(ctx context.Context) error {
	r.transport.Subscribe(topicIncomingCall, r.onIncomingCall)
	r.transport.Subscribe(topicCallAccepted, r.onCallAccepted)
	r.transport.Subscribe(topicCallRejected, r.onCallRejected)
	r.transport.Subscribe(topicCallOffer, decodeTo(r.offerHandlers.dispatch))
	r.transport.Subscribe(topicCallAnswer, decodeTo(r.answerHandlers.dispatch))
	r.transport.Subscribe(topicCallIce, decodeTo(r.iceHandlers.dispatch))
	r.transport.Subscribe(topicCallHangup, decodeTo(r.hangupHandlers.dispatch))
	return r.transport.Connect(ctx)
}

// decodeTo unmarshals a frame and hands it to dispatch. A bad payload
// fails only that message; the broker guarantees well-formed bodies.
func decodeTo[T any](dispatch func(T)) func(core.Frame) {
	return func(f core.Frame) {
		var v T
		if err := json.Unmarshal(f, &v); err != nil {
			log.Error().Err(err).Str("module", "app.registry").Msg("bad signaling payload")
			return
		}
		dispatch(v)
	}
}

func (r *Registry) onIncomingCall(f core.Frame) {
	var inv domain.CallInvite
	if err := json.Unmarshal(f, &inv); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("bad invite payload")
		return
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(inv.CallID)).
		Str("from", string(inv.FromUserID)).Msg("incoming call")
	r.CallInvite.Set(&inv)
}

func (r *Registry) onCallAccepted(f core.Frame) {
	var acc domain.CallAccepted
	if err := json.Unmarshal(f, &acc); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("bad accepted payload")
		return
	}
	current := r.ActiveCall.Get()
	if current == nil || current.CallID != acc.CallID {
		return
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(acc.CallID)).Msg("call accepted")
	r.nav.ToCall(acc.CallID)
}

func (r *Registry) onCallRejected(f core.Frame) {
	var rej domain.CallRejected
	if err := json.Unmarshal(f, &rej); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("bad rejected payload")
		return
	}
	current := r.ActiveCall.Get()
	if current == nil || current.CallID != rej.CallID {
		return
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(rej.CallID)).Msg("call rejected")
	r.ActiveCall.Set(nil)
	r.nav.ToRoot()
}

// Handler registration. Every inbound event of a kind goes to every
// registered handler, in registration order.

func (r *Registry) OnOffer(fn func(domain.Offer)) *Subscription {
	return r.offerHandlers.add(fn)
}

func (r *Registry) OnAnswer(fn func(domain.Answer)) *Subscription {
	return r.answerHandlers.add(fn)
}

func (r *Registry) OnICE(fn func(domain.IceCandidate)) *Subscription {
	return r.iceHandlers.add(fn)
}

func (r *Registry) OnHangup(fn func(domain.Hangup)) *Subscription {
	return r.hangupHandlers.add(fn)
}

// CallUser publishes an invite to the peer and marks the active call
// with this side as caller.
func (r *Registry) CallUser(toUserID domain.UserID, callID domain.CallID, fromUserID domain.UserID, fromUsername string) error {
	if !r.limiter.Allow(fromUserID) {
		log.Warn().Str("module", "app.registry").Str("from", string(fromUserID)).Msg("invite rate limited")
		return ErrInviteRateLimited
	}

	payload := struct {
		ToUserID     domain.UserID `json:"toUserId"`
		CallID       domain.CallID `json:"callId"`
		FromUserID   domain.UserID `json:"fromUserId"`
		FromUsername string        `json:"fromUsername"`
	}{toUserID, callID, fromUserID, fromUsername}

	if err := r.transport.Publish(destInvite, payload); err != nil {
		return err
	}

	r.ActiveCall.Set(&domain.ActiveCall{CallID: callID, PeerID: toUserID, IsCaller: true})
	return nil
}

// SetActiveCallAsCallee marks the active call with this side as callee.
func (r *Registry) SetActiveCallAsCallee(callID domain.CallID, callerID domain.UserID) {
	log.Info().Str("module", "app.registry").Str("call_id", string(callID)).
		Str("caller", string(callerID)).Msg("active call as callee")
	r.ActiveCall.Set(&domain.ActiveCall{CallID: callID, PeerID: callerID, IsCaller: false})
}

func (r *Registry) AcceptCall(callID domain.CallID, callerID domain.UserID) error {
	return r.transport.Publish(destAccept, struct {
		CallID   domain.CallID `json:"callId"`
		CallerID domain.UserID `json:"callerId"`
	}{callID, callerID})
}

func (r *Registry) RejectCall(callID domain.CallID, callerID domain.UserID) error {
	return r.transport.Publish(destReject, struct {
		CallID   domain.CallID `json:"callId"`
		CallerID domain.UserID `json:"callerId"`
	}{callID, callerID})
}

func (r *Registry) SendOffer(callID domain.CallID, toUserID domain.UserID, sdp string) error {
	return r.transport.Publish(destOffer, struct {
		CallID   domain.CallID `json:"callId"`
		ToUserID domain.UserID `json:"toUserId"`
		SDP      string        `json:"sdp"`
	}{callID, toUserID, sdp})
}

func (r *Registry) SendAnswer(callID domain.CallID, toUserID domain.UserID, sdp string) error {
	return r.transport.Publish(destAnswer, struct {
		CallID   domain.CallID `json:"callId"`
		ToUserID domain.UserID `json:"toUserId"`
		SDP      string        `json:"sdp"`
	}{callID, toUserID, sdp})
}

func (r *Registry) SendIceCandidate(callID domain.CallID, toUserID domain.UserID, cand domain.IceCandidate) error {
	return r.transport.Publish(destIce, struct {
		CallID        domain.CallID `json:"callId"`
		ToUserID      domain.UserID `json:"toUserId"`
		Candidate     string        `json:"candidate"`
		SDPMid        *string       `json:"sdpMid"`
		SDPMLineIndex *uint16       `json:"sdpMLineIndex"`
	}{callID, toUserID, cand.Candidate, cand.SDPMid, cand.SDPMLineIndex})
}

func (r *Registry) SendHangup(callID domain.CallID, toUserID domain.UserID) error {
	return r.transport.Publish(destHangup, struct {
		CallID   domain.CallID `json:"callId"`
		ToUserID domain.UserID `json:"toUserId"`
	}{callID, toUserID})
}

// CloseModal dismisses the pending invite, if any.
func (r *Registry) CloseModal() {
	r.CallInvite.Set(nil)
}

// ClearActiveCall drops the active call record.
func (r *Registry) ClearActiveCall() {
	r.ActiveCall.Set(nil)
}
