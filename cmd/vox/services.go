package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxhq/vox/internal/db"
	"github.com/voxhq/vox/internal/observe"
	"github.com/voxhq/vox/internal/session"
	"github.com/voxhq/vox/internal/token"
	"github.com/voxhq/vox/internal/vox"
	"golang.org/x/sync/errgroup"
)

// services is the controller plus everything it needs while a long-running
// command is up.
type services struct {
	controller *session.Controller
	store      *db.Store
	metrics    *observe.Metrics
	shutdown   func(context.Context) error
}

func newServices(ctx context.Context) (*services, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, fmt.Errorf("credentials: %w (set token or api_key in %s, or VOX_TOKEN)", err, configPath())
	}

	rt := &services{metrics: observe.Discard()}

	if cfg.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		rt.shutdown = shutdown
		rt.metrics = observe.DefaultMetrics()
	}

	opts := []session.Option{
		session.WithLogger(slog.Default()),
		session.WithMetrics(rt.metrics),
	}
	if cfg.Cache.Enabled {
		store, err := db.Open(cfg.DBPath)
		if err != nil {
			slog.Warn("note cache unavailable", "path", cfg.DBPath, "error", err)
		} else {
			rt.store = store
			opts = append(opts, session.WithNoteCache(store))
		}
	}

	rt.controller = session.NewController(vox.Connector(vox.Options{
		Endpoint:    cfg.Endpoint,
		Logger:      slog.Default(),
		Metrics:     rt.metrics,
		MinBackoff:  cfg.Connection.MinBackoff,
		MaxBackoff:  cfg.Connection.MaxBackoff,
		StopTimeout: cfg.Connection.StopTimeout,
		LevelTTL:    cfg.Connection.LevelTTL,
	}), opts...)

	return rt, nil
}

// start runs the metrics endpoint and the credential loop on g.
func (s *services) start(ctx context.Context, g *errgroup.Group) {
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return observe.Serve(ctx, cfg.MetricsAddr) })
	}
	g.Go(func() error { return driveCredentials(ctx, s.controller) })
}

func (s *services) close() {
	s.controller.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Debug("close note cache", "error", err)
		}
	}
	if s.shutdown != nil {
		if err := s.shutdown(context.Background()); err != nil {
			slog.Debug("metrics shutdown", "error", err)
		}
	}
}

// driveCredentials binds the controller to the configured token, or to
// tokens issued and refreshed with the API key. It blocks until ctx is done.
func driveCredentials(ctx context.Context, c *session.Controller) error {
	if cfg.Token != "" {
		c.Initialize(cfg.Token, endpointArg)
		<-ctx.Done()
		return nil
	}

	src := token.NewSource(token.NewIssuer(cfg.AuthURL, cfg.APIKey))
	slog.Info("issuing tokens", "session_id", src.SessionID(), "auth_url", cfg.AuthURL)
	if err := src.Run(ctx, func(tok string) { c.Initialize(tok, endpointArg) }); err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	return nil
}
