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

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/config"
	"github.com/DoyleJ11/arcade-match-backend/internal/httpapi"
	"github.com/DoyleJ11/arcade-match-backend/internal/hub"
	"github.com/DoyleJ11/arcade-match-backend/internal/lobby"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/store"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
	"github.com/DoyleJ11/arcade-match-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	clock := clockwork.NewRealClock()
	mc := cfg.Match()
	mc.Clock = clock
	mc.Logger = log

	// Sessions outlive request contexts; the hub gets its own root.
	h := hub.NewHub(context.Background(), mc)
	defer h.Shutdown()

	lobbies := lobby.NewManager(h, clock, log)
	tournaments := tournament.NewManager(h, st, clock, log)

	if err := h.OnResult(ctx, func(r match.Result) {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.SaveMatchResult(rctx, r); err != nil {
			log.Error("save result", zap.String("session", r.SessionID), zap.Error(err))
		}
		if err := tournaments.HandleResult(rctx, r); err != nil {
			log.Warn("tournament result", zap.String("session", r.SessionID), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register result listener: %w", err)
	}

	n, err := tournaments.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore tournaments: %w", err)
	}
	log.Info("tournaments restored", zap.Int("count", n))

	sweeper, err := hub.NewSweeper(log, cfg.SweepInterval)
	if err != nil {
		return err
	}
	if err := sweeper.SweepSessions(h, cfg.ResultRetention); err != nil {
		return err
	}
	if err := sweeper.Every("lobbies", func(ctx context.Context) (int, error) {
		return lobbies.Sweep(ctx, cfg.ResultRetention)
	}); err != nil {
		return err
	}
	if err := sweeper.Every("idle-lobbies", func(ctx context.Context) (int, error) {
		return lobbies.SweepIdle(ctx, cfg.LobbyIdleTTL)
	}); err != nil {
		return err
	}
	sweeper.Start()

	verifier := auth.NewVerifier(cfg.JWTSecret, clock, log)
	if verifier.DevMode() {
		log.Warn("ARCADE_JWT_SECRET is empty, trusting client-supplied identities")
	}

	gw := ws.NewGateway(ws.Options{
		Sessions:       h,
		Lobbies:        lobbies,
		Tournaments:    tournaments,
		Auth:           verifier,
		Logger:         log,
		OriginPatterns: cfg.AllowedOrigins,
		OutboxSize:     cfg.OutboxSize,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Sessions:    h,
			Results:     st,
			Lobbies:     lobbies,
			Tournaments: tournaments,
			Auth:        verifier,
			Gateway:     gw,
			Logger:      log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		gw.CloseAll()
		err := srv.Shutdown(sctx)
		if serr := sweeper.Shutdown(); serr != nil {
			log.Warn("stop sweeper", zap.Error(serr))
		}
		return err
	})
	return g.Wait()
}

func openStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL is empty, keeping tournaments in memory")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return pg, nil
}
