// Package server assembles the HTTP API, the tenant middleware and the
// realtime relay behind one gin router.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/conversation"
	"github.com/zulandar/ledgerline/internal/relay"
	"github.com/zulandar/ledgerline/internal/storage"
	"github.com/zulandar/ledgerline/internal/tenant"
	"github.com/zulandar/ledgerline/internal/translate"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Opts holds the dependencies of a Server.
type Opts struct {
	Config     *config.Config
	DB         *gorm.DB
	Verifier   auth.TokenVerifier
	Translator translate.Service // defaults to translate.New(Config.Translation)
}

// Server is a configured router plus the background work it owns.
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	relay   *relay.Relay
	sweeper *storage.Sweeper
}

// New wires the store, relay, tenant middleware and routes.
func New(opts Opts) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("server: verifier is required")
	}
	cfg := opts.Config

	svc := opts.Translator
	if svc == nil {
		var err error
		svc, err = translate.New(cfg.Translation)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}

	store, err := conversation.NewStore(conversation.StoreOpts{DB: opts.DB})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	audio, err := storage.NewAudioStore(cfg.Storage.AudioDir)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	sweeper, err := storage.NewSweeper(storage.SweeperOpts{
		Store:     audio,
		Cron:      cfg.Storage.SweepCron,
		Retention: time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	rel, err := relay.New(relay.Opts{
		Verifier:    opts.Verifier,
		Store:       store,
		Companies:   tenant.PrincipalLookup{DB: opts.DB},
		Translator:  svc,
		Transcriber: svc,
		Audio:       audio,
		Config:      cfg.Relay,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	chain, err := tenant.NewChain(cfg.Tenant.Resolvers, cfg.Tenant.Header, opts.DB)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	scoped, err := tenant.Middleware(tenant.MiddlewareOpts{DB: opts.DB, Resolver: chain, Header: cfg.Tenant.Header})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	registerRoutes(router, routeDeps{
		store:    store,
		audio:    audio,
		relay:    rel,
		verifier: opts.Verifier,
		tenant:   scoped,
	})

	return &Server{cfg: cfg, router: router, relay: rel, sweeper: sweeper}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Relay returns the realtime relay.
func (s *Server) Relay() *relay.Relay { return s.relay }

// Run serves until ctx is cancelled, then closes realtime connections and
// shuts the listener down.
func (s *Server) Run(ctx context.Context, out io.Writer) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not tracked by Shutdown.
		s.relay.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})

	if out != nil {
		fmt.Fprintf(out, "Ledgerline listening on http://localhost:%d\n", s.cfg.Server.Port)
	}
	return g.Wait()
}

// StartOpts holds configuration for Start.
type StartOpts struct {
	Opts
	Out io.Writer
}

// Start builds a Server and runs it until ctx is cancelled.
func Start(ctx context.Context, opts StartOpts) error {
	gin.SetMode(gin.ReleaseMode)
	s, err := New(opts.Opts)
	if err != nil {
		return err
	}
	return s.Run(ctx, opts.Out)
}
