package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "unirate/internal/adapters/http_server"
	"unirate/internal/adapters/observability"
	"unirate/internal/app"
	"unirate/internal/bootstrap"
	"unirate/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer deps.Close()

	logEvents(deps.Gate.Events())

	log.Info().
		Int("anon_limit", cfg.AnonPolicy.Limit).
		Dur("anon_window", cfg.AnonPolicy.Window).
		Int("auth_limit", cfg.AuthPolicy.Limit).
		Dur("auth_window", cfg.AuthPolicy.Window).
		Str("anon_store", cfg.AnonStore).
		Str("remote", cfg.RemoteBackend).
		Msg("gate configured")

	srv := server.New(cfg.GateRPS, cfg.GateBurst)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Gate: deps.Gate})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("shut down")
}

// logEvents records quota transitions in the request log stream.
func logEvents(bus *app.Bus) {
	h := func(ctx context.Context, e app.Event) {
		log.Info().
			Str("event", string(e.Kind)).
			Str("device", e.Visitor.DeviceID).
			Str("user", e.Visitor.UserID).
			Str("review", e.ReviewID).
			Int("count", e.Count).
			Msg("gate_event")
	}
	for _, k := range []app.EventKind{app.EventQuotaExhausted, app.EventQuotaReset, app.EventSignedIn, app.EventSignedOut} {
		bus.Subscribe(k, h)
	}
}
