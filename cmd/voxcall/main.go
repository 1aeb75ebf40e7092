package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/adapters/capture"
	"github.com/avrek/voxcall/internal/adapters/directory"
	"github.com/avrek/voxcall/internal/adapters/httpapi"
	"github.com/avrek/voxcall/internal/adapters/playback"
	"github.com/avrek/voxcall/internal/adapters/rtc"
	"github.com/avrek/voxcall/internal/adapters/ws"
	"github.com/avrek/voxcall/internal/app"
	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/config"
	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
)

// navigator routes between the idle screen and the call screen. ToCall
// arms the session for whatever call the registry holds active.
type navigator struct {
	registry *app.Registry
	session  *app.Session
	speaker  *playback.Speaker
	base     context.Context
}

func (n *navigator) ToCall(callID domain.CallID) {
	active := n.registry.ActiveCall.Get()
	if active == nil || active.CallID != callID {
		log.Warn().Str("module", "main").Str("call_id", string(callID)).Msg("no active call to join")
		return
	}
	log.Info().Str("module", "main").Str("call_id", string(callID)).
		Bool("caller", active.IsCaller).Msg("entering call")
	n.session.Init(n.base, active.CallID, active.PeerID, active.IsCaller, n.speaker)
}

func (n *navigator) ToRoot() {
	log.Info().Str("module", "main").Msg("back to idle")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	selfID := domain.UserID(cfg.UserID)
	if selfID == "" {
		profile, err := domain.NewUserProfile(cfg.Username)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid username in config")
		}
		selfID = profile.ID
		log.Info().Str("user_id", string(selfID)).Msg("minted local identity")
	}

	engine, err := playback.NewEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("audio output init failed")
	}
	defer engine.Close()

	transport := ws.NewClient(cfg.BrokerURL, cfg.Token)
	defer transport.Close()

	nav := &navigator{base: ctx}
	registry := app.NewRegistry(transport, nav)

	rtcConfig := rtc.ConfigWithServers(cfg.StunServers)
	links := func(_ context.Context) (core.PeerLink, error) {
		return rtc.NewPeerConnection(rtcConfig)
	}

	session := app.NewSession(registry, capture.NewMicrophone(), nav, links)
	if cfg.SetupTimeout > 0 {
		session.SetSetupTimeout(cfg.SetupTimeout)
	}

	nav.registry = registry
	nav.session = session
	nav.speaker = playback.NewSpeaker(engine)

	cues := audio.NewCues(playback.NewCueFactory(engine))
	defer cues.StopAll()

	dir := directory.NewClient(cfg.APIURL, cfg.Token)
	ring := audio.Ringtone(48000, 2)
	notifier := app.NewNotifier(registry, dir, cues, nav, ring, cfg.RingVolume)
	notifier.Start(ctx)
	defer notifier.Close()

	if err := registry.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("signaling connect failed, retrying in background")
	}

	r := httpapi.SetupRouter(cfg.Mode, httpapi.Deps{
		Registry: registry,
		Session:  session,
		Notifier: notifier,
		SelfID:   selfID,
		SelfName: cfg.Username,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voxcall started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	session.Hangup()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
