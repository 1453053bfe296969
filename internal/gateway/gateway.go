// ABOUTME: Gateway orchestrator wiring the store, presence, relay, hub, and HTTP API
// ABOUTME: Manages the HTTP server lifecycle including graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/config"
	"github.com/parlor-chat/parlor/internal/conversation"
	"github.com/parlor-chat/parlor/internal/presence"
	"github.com/parlor-chat/parlor/internal/relay"
	"github.com/parlor-chat/parlor/internal/store"
)

// Gateway orchestrates the parlor-gateway server components. One process
// carries the WebSocket hub for live traffic and the HTTP API for history.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	registry     *presence.Registry
	relay        *relay.Relay
	hub          *Hub
	api          *API
	httpServer   *http.Server
	logger       *slog.Logger
}

// New creates a Gateway from configuration. The store is opened here; call
// Run to serve and Shutdown (or Run's own shutdown path) to release it.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	convService := conversation.New(s, logger)
	registry := presence.NewRegistry(logger)
	hub := NewHub(cfg.CORS.AllowedOrigins, logger)
	rly := relay.New(registry, convService, hub, logger)
	hub.SetHandler(rly)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	api := NewAPI(convService, s, verifier, cfg.Auth.TokenTTL, logger)

	router := mux.NewRouter()
	api.Routes(router)
	router.HandleFunc("/ws", hub.HandleWS)

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}
	if len(corsOptions.AllowedOrigins) == 0 {
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
	}
	handler := cors.New(corsOptions).Handler(router)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		conversation: convService,
		registry:     registry,
		relay:        rly,
		hub:          hub,
		api:          api,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
