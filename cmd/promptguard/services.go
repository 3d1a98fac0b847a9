package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raaihank/promptguard/internal/archive"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/confirm"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/history"
	"github.com/raaihank/promptguard/internal/intercept"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/platform"
	"github.com/raaihank/promptguard/internal/proxy"
	"github.com/raaihank/promptguard/internal/telemetry"
	"github.com/raaihank/promptguard/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// services is everything a long-running command shares
type services struct {
	cfg    *config.Config
	logger *logger.Logger

	engine    *detect.Engine
	platforms *platform.Registry
	hub       *websocket.Hub
	history   *history.Store
	archive   *archive.Store
	gate      *gate.Gate
	coord     *intercept.Coordinator
	server    *proxy.Server
}

// newServices wires the engine, confirmations, telemetry sinks and the
// proxy. Optional stores that cannot be reached are logged and skipped.
func newServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	s := &services{cfg: cfg, logger: log}

	var err error
	s.engine, err = detect.New(cfg.Detection, log.WithComponent("detect"))
	if err != nil {
		return nil, err
	}

	s.platforms, err = platform.NewRegistry(cfg.Platforms)
	if err != nil {
		return nil, fmt.Errorf("failed to load platforms: %w", err)
	}

	if cfg.WebSocket.Enabled {
		s.hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastDecisions:   cfg.WebSocket.Events.BroadcastDecisions,
			BroadcastWarnings:    cfg.WebSocket.Events.BroadcastWarnings,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
			Token:                cfg.WebSocket.Token,
		}, log.WithComponent("websocket").Logger)
	}

	sinks := telemetry.Multi{telemetry.LogSink{Logger: log.WithComponent("telemetry")}}
	if s.hub != nil {
		sinks = append(sinks, telemetry.HubSink{Hub: s.hub})
	}

	if cfg.Telemetry.Redis.Enabled {
		if s.history, err = history.New(cfg.Telemetry.Redis, log); err != nil {
			log.Warn("Event history unavailable, continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, s.history)
		}
	}

	if cfg.Telemetry.Postgres.Enabled {
		if s.archive, err = archive.New(cfg.Telemetry.Postgres, log); err != nil {
			log.Warn("Event archive unavailable, continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, s.archive)
		}
	}

	provider, err := s.confirmProvider()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.gate = gate.New(cfg.Gate, provider, log)
	s.coord = intercept.New(cfg.Channels, intercept.Deps{
		Engine:    s.engine,
		Gate:      s.gate,
		Warner:    confirm.NewThrottled(provider, cfg.Confirm.WarningsPerMinute),
		Sink:      sinks,
		Platforms: s.platforms,
		Logger:    log,
	})

	deps := proxy.Deps{Coordinator: s.coord, Engine: s.engine, Hub: s.hub}
	if s.history != nil {
		deps.History = s.history
	}
	s.server, err = proxy.New(cfg, deps, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}

	return s, nil
}

func (s *services) confirmProvider() (confirm.Provider, error) {
	switch s.cfg.Confirm.Mode {
	case "hub":
		if s.hub == nil {
			return nil, errors.New(`confirm mode "hub" needs websocket.enabled`)
		}
		return confirm.NewHub(s.hub, s.cfg.Confirm.Timeout, s.logger), nil
	case "allow":
		return &confirm.Static{Proceed: true, Logger: s.logger}, nil
	default:
		return &confirm.Static{Proceed: false, Logger: s.logger}, nil
	}
}

// restoreSwitch applies the on/off switch persisted by the dashboard
func (s *services) restoreSwitch(ctx context.Context) {
	if s.history == nil {
		return
	}
	enabled, err := s.history.Enabled(ctx)
	if err != nil {
		s.logger.Warn("Failed to read stored enabled flag", zap.Error(err))
		return
	}
	s.server.SetInspecting(enabled && s.cfg.Channels.Enabled)
}

// watchConfig applies configuration edits that are safe to change live
func (s *services) watchConfig() {
	err := config.Watch(func(next *config.Config) {
		s.logger.Info("Configuration reloaded", zap.Bool("channels_enabled", next.Channels.Enabled))
		s.server.SetInspecting(next.Channels.Enabled)
	}, func(err error) {
		s.logger.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
	if err != nil {
		s.logger.Debug("Configuration hot reload disabled", zap.Error(err))
	}
}

// run serves HTTP and the websocket hub, plus any extra workers, until ctx
// ends or one of them fails
func (s *services) run(ctx context.Context, extra ...func(context.Context) error) error {
	s.restoreSwitch(ctx)
	s.watchConfig()

	g, gctx := errgroup.WithContext(ctx)

	if s.hub != nil {
		g.Go(func() error {
			s.hub.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.Int("port", s.cfg.Server.Port))
		return s.server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Stop(shutdownCtx)
	})

	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	return g.Wait()
}

// Close waits for pending decisions and releases the stores
func (s *services) Close() {
	if s.coord != nil {
		s.coord.Close()
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("Failed to close event history", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Warn("Failed to close event archive", zap.Error(err))
		}
	}
}
