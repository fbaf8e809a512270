package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/airdrop-bot/internal/config"
	"github.com/airdrop-bot/internal/transport/http/handler"
	appmiddleware "github.com/airdrop-bot/internal/transport/http/middleware"
)

const maxBodyBytes = 4 << 10

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthH := handler.NewHealthHandler(deps.Pool)
	turnH := handler.NewTurnHandler(deps.Dialogue)
	poolH := handler.NewPoolHandler(deps.Pool)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Check)
		r.Get("/pool", poolH.Get)
		r.With(appmiddleware.JSONBody(maxBodyBytes)).Post("/turns", turnH.Post)
	})

	return r
}

// Serve runs the HTTP transport until ctx is done, then shuts it down.
func Serve(ctx context.Context, cfg *config.Config, deps *Deps) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "addr", srv.Addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("http transport stopped")
	return nil
}
