package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceRelay/internal/adapters/announce"
	"github.com/dkeye/VoiceRelay/internal/adapters/codec"
	router "github.com/dkeye/VoiceRelay/internal/adapters/http"
	"github.com/dkeye/VoiceRelay/internal/adapters/rtc"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/app/orch"
	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
)

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
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		// JSON lines in release, console output while developing.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	sessions, err := rtc.NewFactory(cfg.WebRTC)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}
	relays := sfu.NewRelayManager(cfg.Relay.QueueSize)

	format, err := transcode.LookupFormat(cfg.Transcode.Format)
	if err != nil {
		return err
	}
	var transcoder *transcode.Manager
	if cfg.Transcode.Enabled {
		transcoder = transcode.NewManager(codec.Codecs{FFmpegPath: cfg.Transcode.FFmpegPath}, transcode.Options{
			Format:        format,
			BitrateKbps:   cfg.Transcode.BitrateKbps,
			BufferSeconds: cfg.Transcode.BufferSeconds,
			SampleRate:    cfg.Transcode.SampleRate,
			Channels:      cfg.Transcode.Channels,
			FrameTimeout:  cfg.Transcode.FrameTimeout,
			VisEvery:      cfg.Transcode.VisEvery,
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	var announcer core.StreamAnnouncer = announce.Nop{}
	if cfg.Announce.RedisAddr != "" {
		pub, err := announce.Connect(ctx, cfg.Announce)
		if err != nil {
			return err
		}
		defer pub.Close()
		a := announce.New(pub, announce.Options{
			Channel:   cfg.Announce.Channel,
			PublicURL: cfg.PublicURL,
			Ext:       format.Ext,
			QueueSize: cfg.Announce.QueueSize,
			Workers:   cfg.Announce.Workers,
		})
		announcer = a
		g.Go(func() error { return a.Run(ctx) })
	}

	deps := orch.Deps{
		Sessions:  sessions,
		Relays:    relays,
		Announcer: announcer,
		Policy:    app.OutboundOffersPolicy{},
	}
	if transcoder != nil {
		deps.Transcoder = transcoder
	}
	o := orch.New(deps)
	if transcoder != nil {
		transcoder.SetVisualizer(o.Visualize)
	}
	g.Go(func() error { return o.Run(ctx) })

	var buffers router.BufferSource
	if transcoder != nil {
		buffers = transcoder
	}
	r := router.SetupRouter(ctx, cfg, o, o, buffers)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("format", format.Name).Bool("transcode", transcoder != nil).Msg("Voice relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	if transcoder != nil {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		if werr := transcoder.Wait(waitCtx); werr != nil {
			log.Warn().Err(werr).Msg("transcoders did not finish before exit")
		}
	}
	return err
}
