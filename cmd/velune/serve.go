package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matiasleandrokruk/velune/internal/api"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
	"github.com/matiasleandrokruk/velune/internal/infra/config"
	"github.com/matiasleandrokruk/velune/internal/infra/eventbus"
	"github.com/matiasleandrokruk/velune/internal/infra/llm"
	"github.com/matiasleandrokruk/velune/internal/infra/logging"
	"github.com/matiasleandrokruk/velune/internal/server"
	"github.com/matiasleandrokruk/velune/internal/version"
	"github.com/matiasleandrokruk/velune/pkg/auth"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.log, nil)
		},
	}
}

// serve runs the relay until ctx ends. A nil ln listens on cfg.Server.Addr().
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ln net.Listener) error {
	policy, err := auth.NewTokenPolicy(cfg.Relay.AccessToken, cfg.Relay.AccessTokenHash)
	if err != nil {
		return err
	}
	if !policy.Enabled() {
		log.Warn().Msg("no access token configured; the relay accepts every request")
	}

	bus := eventbus.New()
	defer bus.Close()
	monitor := relay.NewMonitor(bus)

	provider := llm.NewOllamaProvider(cfg.Relay.OllamaBaseURL, cfg.Relay.UpstreamModel,
		llm.WithUserAgent(version.UserAgent()))
	rl := relay.New(relay.Config{
		Model:          cfg.Relay.Model,
		UpstreamModel:  cfg.Relay.UpstreamModel,
		SystemPrompt:   cfg.Relay.SystemPrompt,
		ConnectTimeout: cfg.Relay.ConnectTimeout,
		Policy:         policy,
	}, provider, relay.WithBus(bus), relay.WithLogger(logging.Component(log, "relay")))

	router := api.NewRouter(api.Deps{
		Relay:           rl,
		Upstream:        provider,
		Stats:           monitor,
		TokenHeader:     cfg.Relay.TokenHeader,
		MaxRequestBytes: cfg.Relay.MaxRequestBytes,
		Logger:          logging.Component(log, "http"),
	})
	srv := server.NewServer(router, cfg.Server, logging.Component(log, "server"))

	log.Info().
		Str("model", cfg.Relay.Model).
		Str("upstream", provider.ModelInfo().BaseURL).
		Str("upstream_model", cfg.Relay.UpstreamModel).
		Msg("relay configured")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if ln != nil {
			return srv.Serve(gctx, ln)
		}
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), srv.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
