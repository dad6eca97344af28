package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/VoiceClient/internal/adapters/http"
	"github.com/dkeye/VoiceClient/internal/adapters/repo/toml"
	"github.com/dkeye/VoiceClient/internal/adapters/rtc"
	sig "github.com/dkeye/VoiceClient/internal/adapters/signal"
	"github.com/dkeye/VoiceClient/internal/app"
	"github.com/dkeye/VoiceClient/internal/app/activity"
	"github.com/dkeye/VoiceClient/internal/app/layout"
	"github.com/dkeye/VoiceClient/internal/app/orch"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <conference-id>",
		Short: "Join a conference and serve the control API until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runJoin(ctx, cfg, args[0])
		},
	}
	cmd.Flags().String("record-dir", "", "record every remote track into this directory")
	return cmd
}

func localUser(cfg *config.Config) (domain.User, error) {
	name := cfg.DisplayName
	if name == "" {
		name = "Guest"
	}
	u, err := domain.NewUser(name)
	if err != nil {
		return domain.User{}, err
	}
	if cfg.UserID != "" {
		if len(cfg.UserID) > domain.MaxUserIDLen {
			return domain.User{}, errors.New("user_id too long")
		}
		u.ID = domain.UserID(cfg.UserID)
	}
	return *u, nil
}

func runJoin(ctx context.Context, cfg *config.Config, conferenceID string) error {
	self, err := localUser(cfg)
	if err != nil {
		return err
	}

	ch := sig.NewChannel(sig.Options{
		URL:               cfg.ServerURL,
		Token:             cfg.Token,
		KeepaliveInterval: cfg.KeepaliveInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		WriteTimeout:      cfg.WriteTimeout,
		ReadLimit:         cfg.ReadLimit,
		SendBuffer:        cfg.SendBuffer,
	})
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Close()

	capture, err := rtc.NewCapture()
	if err != nil {
		log.Warn().Err(err).Msg("capture unavailable, joining receive-only")
	}
	opts := session.Options{
		Channel:        ch,
		Engine:         rtc.NewEngine(rtc.DefaultOptions()),
		RequestTimeout: cfg.RequestTimeout,
		SignalTimeout:  cfg.SignalTimeout,
	}
	if capture != nil {
		opts.Capture = capture
	}
	sess := session.New(opts)

	monitor := activity.New(activity.Options{
		NewContext:   rtc.NewAudioContextFactory(nil),
		PollInterval: cfg.PollInterval,
		Threshold:    cfg.SpeechThreshold,
		Hold:         cfg.SpeakerHold,
	})

	store, err := toml.NewStore(cfg.PrefsPath)
	if err != nil {
		return err
	}

	var recorder core.StreamRecorder
	if cfg.RecordDir != "" {
		r, err := rtc.NewRecorder(cfg.RecordDir)
		if err != nil {
			return err
		}
		recorder = r
	}

	o, err := orch.New(orch.Options{
		Session:           sess,
		Monitor:           monitor,
		Registry:          app.NewRegistry(self),
		Store:             store,
		Policy:            app.SimplePolicy{NoRejoin: !cfg.Rejoin},
		Channel:           ch,
		Recorder:          recorder,
		IncludeLocalAudio: cfg.IncludeLocalAudio,
	})
	if err != nil {
		return err
	}
	defer o.Close()

	unsub := o.OnLayout(func(l layout.ResolvedLayout) {
		log.Debug().
			Str("module", "cmd").
			Str("mode", string(l.EffectiveMode)).
			Int("primary", len(l.Primary)).
			Int("secondary", len(l.Secondary)).
			Bool("floating_self", l.SelfViewFloating).
			Msg("layout")
	})
	defer unsub()

	mode := "release"
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		mode = "debug"
	}

	g, gctx := errgroup.WithContext(ctx)
	serveControlAPI(gctx, g, cfg.HTTPAddr, router.SetupRouter(ctx, o, mode))
	g.Go(func() error {
		return store.Watch(gctx, o.ApplyPreferences)
	})
	g.Go(func() error {
		return o.Run(gctx, conferenceID)
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("conference_id", conferenceID).Msg("client stopped")
		return err
	}
	log.Info().Msg("Client exited gracefully")
	return nil
}

// serveControlAPI runs the local control API in g until ctx is done. An empty
// addr disables it.
func serveControlAPI(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) bool {
	if addr == "" {
		log.Info().Str("module", "cmd").Msg("control API disabled")
		return false
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control API forced to shutdown")
		}
		return nil
	})
	return true
}
