package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
	"github.com/avrek/voxcall/internal/observe"
)

// RingtoneCue is the cue key for the incoming-call loop.
const RingtoneCue = "ringtone"

// Notifier presents at most one pending invite: it rings while the
// invite is up, resolves the caller's display identity, and carries the
// accept/reject actions. A matching hangup while ringing means the
// caller cancelled; the modal closes on its own.
type Notifier struct {
	registry   *Registry
	directory  core.Directory
	cues       *audio.Cues
	nav        core.Navigator
	ringSource core.CueSource
	ringVolume float64

	// Caller identity for the modal; CallerErr is surfaced but never
	// blocks accept/reject.
	Caller    *observe.Value[*domain.UserProfile]
	CallerErr *observe.Value[string]

	mu          sync.Mutex
	lookupGen   int
	cancelWatch func()
	hangupSub   *Subscription
}

func NewNotifier(registry *Registry, directory core.Directory, cues *audio.Cues, nav core.Navigator, ringSource core.CueSource, ringVolume float64) *Notifier {
	return &Notifier{
		registry:   registry,
		directory:  directory,
		cues:       cues,
		nav:        nav,
		ringSource: ringSource,
		ringVolume: ringVolume,
		Caller:     observe.NewValue[*domain.UserProfile](nil),
		CallerErr:  observe.NewValue(""),
	}
}

// Start watches the registry's invite slot and races inbound hangups
// against the user's answer.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	n.cancelWatch = n.registry.CallInvite.Watch(func(inv *domain.CallInvite) {
		n.onInvite(ctx, inv)
	})
	n.hangupSub = n.registry.OnHangup(func(h domain.Hangup) {
		inv := n.registry.CallInvite.Get()
		if inv == nil || inv.CallID != h.CallID {
			return
		}
		log.Info().Str("module", "app.notifier").Str("call_id", string(h.CallID)).
			Msg("caller hung up while ringing")
		n.registry.CloseModal()
	})
	n.mu.Unlock()
}

// Close unregisters the notifier's subscriptions and silences the ring.
func (n *Notifier) Close() {
	n.mu.Lock()
	cancelWatch := n.cancelWatch
	hangupSub := n.hangupSub
	n.cancelWatch = nil
	n.hangupSub = nil
	n.mu.Unlock()

	if cancelWatch != nil {
		cancelWatch()
	}
	if hangupSub != nil {
		hangupSub.Cancel()
	}
	n.cues.Stop(RingtoneCue)
}

func (n *Notifier) onInvite(ctx context.Context, inv *domain.CallInvite) {
	n.mu.Lock()
	n.lookupGen++
	gen := n.lookupGen
	n.mu.Unlock()

	if inv == nil {
		n.cues.Stop(RingtoneCue)
		n.Caller.Set(nil)
		n.CallerErr.Set("")
		return
	}

	log.Info().Str("module", "app.notifier").Str("call_id", string(inv.CallID)).
		Str("from", string(inv.FromUserID)).Msg("ringing")
	n.cues.PlayLoop(RingtoneCue, n.ringSource, &audio.LoopOptions{Volume: &n.ringVolume})

	go n.resolveCaller(ctx, gen, inv.FromUserID)
}

// resolveCaller loads the caller's profile; failure keeps the invite up
// and only surfaces an error state.
func (n *Notifier) resolveCaller(ctx context.Context, gen int, id domain.UserID) {
	profile, err := n.directory.UserByID(ctx, id)

	n.mu.Lock()
	stale := n.lookupGen != gen
	n.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("module", "app.notifier").Str("user", string(id)).
			Msg("caller lookup failed")
		n.CallerErr.Set("Failed to load caller")
		return
	}
	n.Caller.Set(profile)
}

// Accept registers the call with this side as callee, notifies the
// caller, and hands off to the call screen.
func (n *Notifier) Accept(inv *domain.CallInvite) {
	n.cues.Stop(RingtoneCue)
	n.registry.SetActiveCallAsCallee(inv.CallID, inv.FromUserID)
	if err := n.registry.AcceptCall(inv.CallID, inv.FromUserID); err != nil {
		log.Warn().Err(err).Str("module", "app.notifier").Msg("send accept failed")
	}
	n.registry.CloseModal()
	n.nav.ToCall(inv.CallID)
}

// Reject notifies the caller twice over: a hangup so an already-started
// session tears down, and the reject action for the call record.
func (n *Notifier) Reject(inv *domain.CallInvite) {
	n.cues.Stop(RingtoneCue)
	if err := n.registry.SendHangup(inv.CallID, inv.FromUserID); err != nil {
		log.Warn().Err(err).Str("module", "app.notifier").Msg("send hangup failed")
	}
	if err := n.registry.RejectCall(inv.CallID, inv.FromUserID); err != nil {
		log.Warn().Err(err).Str("module", "app.notifier").Msg("send reject failed")
	}
	n.registry.CloseModal()
}
