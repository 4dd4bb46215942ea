// Package weave assembles the broker, the application manager, the discovery
// responder and the metrics endpoint into one supervised service.
package weave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/weave/internal/broker"
	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/core/synonym"
	"github.com/hay-kot/weave/internal/discovery"
	"github.com/hay-kot/weave/internal/metrics"
	"github.com/hay-kot/weave/internal/rpc"
	"github.com/hay-kot/weave/internal/store/jsonfile"
)

// Service owns every long-lived component.
type Service struct {
	config *config.Config
	log    zerolog.Logger

	apps     *apps.Registry
	channels *channel.Registry
	synonyms *synonym.Table
	metrics  *metrics.Registry
	journal  activity.Recorder

	hub       *rpc.Hub
	broker    *broker.Server
	discovery *discovery.Responder
	endpoint  *metrics.Server

	started bool
	base    zerolog.Logger
}

// New builds the registries from cfg. Nothing is bound until Start.
func New(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	s := &Service{
		config:   cfg,
		log:      log.With().Str("component", "weave").Logger(),
		base:     log,
		apps:     apps.NewRegistry(),
		channels: channel.NewRegistry(),
		synonyms: synonym.New(),
		metrics:  metrics.NewRegistry(),
		journal:  activity.Discard{},
	}

	seeds := make([]apps.SystemApp, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		seeds = append(seeds, apps.SystemApp{Name: app.Name, URL: app.URL, Token: app.Token})
	}
	if err := s.apps.Seed(seeds); err != nil {
		return nil, fmt.Errorf("seed apps: %w", err)
	}

	for alias, target := range cfg.Synonyms {
		if _, err := s.synonyms.Register(alias, target); err != nil {
			return nil, fmt.Errorf("synonym %q: %w", alias, err)
		}
	}

	if cfg.Activity.Enabled {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s.journal = jsonfile.NewActivityStore(cfg.DataDir).WithMaxActivities(cfg.Activity.MaxEntries)
	}

	s.hub = rpc.New(rpc.Deps{
		Apps:       s.apps,
		Channels:   s.channels,
		Activity:   s.journal,
		Metrics:    s.metrics.Broker,
		Registerer: s.metrics.Prometheus(),
	}, log)

	s.broker = broker.New(broker.Config{
		Addr:           cfg.BrokerAddr(),
		MaxConnections: cfg.Broker.MaxConnections,
		MaxLineBytes:   cfg.Broker.MaxLineBytes,
	}, broker.Deps{
		Apps:     s.apps,
		Channels: s.channels,
		Synonyms: s.synonyms,
		Metrics:  s.metrics.Broker,
		Activity: s.journal,
	}, log)

	if cfg.Metrics.Addr != "" {
		s.endpoint = metrics.NewServer(cfg.Metrics.Addr, s.metrics, log)
	}

	return s, nil
}

// Start creates the administrative channels, then binds the listeners. The
// hub's channels exist before the first client can connect.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return errors.New("weave: already started")
	}

	if err := s.hub.Start(ctx); err != nil {
		return fmt.Errorf("start app manager: %w", err)
	}
	if err := s.broker.Listen(); err != nil {
		s.channels.Shutdown()
		_ = s.hub.Stop()
		return fmt.Errorf("start broker: %w", err)
	}
	if s.config.Discovery.Enabled {
		// Advertise the bound port so an ephemeral broker port is discoverable.
		s.discovery = discovery.New(discovery.Config{
			Addr:       s.config.DiscoveryAddr(),
			BrokerPort: s.broker.Addr().(*net.TCPAddr).Port,
		}, s.base)
		if err := s.discovery.Listen(); err != nil {
			s.broker.Shutdown()
			_ = s.hub.Stop()
			return fmt.Errorf("start discovery: %w", err)
		}
	}

	s.started = true
	s.log.Info().
		Str("broker", s.broker.Addr().String()).
		Bool("discovery", s.discovery != nil).
		Str("metrics", s.config.Metrics.Addr).
		Int("apps", len(s.apps.List())).
		Msg("weave started")
	return nil
}

// Serve runs every component until ctx is cancelled or one of them fails,
// then shuts the rest down.
func (s *Service) Serve(ctx context.Context) error {
	if !s.started {
		return errors.New("weave: Serve called before Start")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.broker.Serve(gctx)
	})

	if s.discovery != nil {
		g.Go(func() error {
			return s.discovery.Run(gctx)
		})
	}

	if s.endpoint != nil {
		g.Go(func() error {
			return s.endpoint.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// Run is Start followed by Serve.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Service) shutdown() {
	s.log.Info().Msg("shutting down")

	// Broker shutdown closes every channel, which releases the hub's pop.
	s.broker.Shutdown()
	if err := s.hub.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("app manager did not stop cleanly")
	}
	if s.discovery != nil {
		s.discovery.Stop()
	}
}

// BrokerAddr returns the bound broker address. Only valid after Start.
func (s *Service) BrokerAddr() net.Addr {
	return s.broker.Addr()
}

// DiscoveryAddr returns the bound discovery address, or nil when disabled.
func (s *Service) DiscoveryAddr() net.Addr {
	if s.discovery == nil {
		return nil
	}
	return s.discovery.Addr()
}

// Channels exposes the channel registry for inspection.
func (s *Service) Channels() *channel.Registry {
	return s.channels
}

// RPCs lists the RPCs registered with the application manager.
func (s *Service) RPCs() []rpc.Info {
	return s.hub.List()
}
