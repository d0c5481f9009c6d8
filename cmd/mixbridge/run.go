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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mixbridge/internal/bridging"
	"mixbridge/internal/config"
	"mixbridge/internal/core"
	"mixbridge/internal/domain"
	"mixbridge/internal/engine"
	"mixbridge/internal/handler"
	"mixbridge/internal/hub"
	"mixbridge/internal/metrics"
	"mixbridge/internal/repository"
	"mixbridge/internal/repository/sqlite"
	"mixbridge/internal/watcher"
)

// autosaveInterval is how often pending changes are written to the database
const autosaveInterval = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the routing core",
	Long: `Run the routing core against the in-process bridging engine.

The project is restored from the database, or seeded from the config file
on first start. Changes are saved periodically and on shutdown. When
http.addr is set, /api serves the control API, /metrics serves Prometheus
metrics and /events streams core events as server-sent events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, cfgPath, appLogger)
	},
}

func run(ctx context.Context, cfg *config.Config, cfgPath string, logger *zap.Logger) error {
	logger.Info("starting mixbridge", zap.String("config", cfgPath))

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer repo.Close()
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	eng := engine.NewLoopback(logger.Named("engine"))
	if cfg.Engine.Document != "" {
		if err := seedDocument(eng, cfg.Engine.Document); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := hub.New(hub.WithInterval(cfg.Tick.Duration()), hub.WithLogger(logger.Named("hub")))
	c, err := core.New(eng,
		core.WithLogger(logger.Named("core")),
		core.WithMetrics(metrics.New(reg)),
		core.WithPoster(h))
	if err != nil {
		return err
	}

	// The hub is not running yet, so this goroutine still owns the core
	project, err := initialProject(ctx, repo, cfg)
	if err != nil {
		return err
	}
	if err := c.Restore(*project); err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	events := make(chan core.Event, 64)
	c.Events().Subscribe(events)
	defer c.Events().Unsubscribe(events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx, c) })

	g.Go(func() error {
		for {
			select {
			case ev := <-events:
				h.Broadcast(ev)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error { return autosave(gctx, h, c, repo, logger) })

	if cfgPath != "" {
		w := watcher.New(cfgPath, func(path string) {
			reloadTopology(gctx, h, c, path, logger)
		}).WithLogger(logger.Named("watcher"))
		g.Go(func() error { return w.Watch(gctx) })
	}

	if cfg.HTTP.Addr != "" {
		mux := http.NewServeMux()
		handler.New(c, h, logger.Named("http")).Register(mux)
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("GET /events", h)

		server := &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: handler.Chain(mux,
				handler.Recover(logger),
				handler.Logger(logger.Named("http"))),
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("shutting down")

	// The hub has stopped; the core is back on this goroutine
	if saveErr := saveSnapshot(context.Background(), c, repo); saveErr != nil {
		logger.Error("final save failed", zap.Error(saveErr))
		err = errors.Join(err, saveErr)
	}
	if stopErr := c.Stop(); stopErr != nil {
		logger.Warn("engine stop failed", zap.Error(stopErr))
	}
	return err
}

func seedDocument(eng *engine.Loopback, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read engine document: %w", err)
	}
	doc, err := bridging.ParseDocument(data)
	if err != nil {
		return fmt.Errorf("parse engine document %s: %w", path, err)
	}
	if !eng.ApplyConfig(doc) {
		return fmt.Errorf("engine document %s: %w", path, domain.ErrEngineRejected)
	}
	return nil
}

// initialProject returns the saved project, or the one the config file seeds
func initialProject(ctx context.Context, repo repository.Repository, cfg *config.Config) (*domain.Project, error) {
	p, err := repo.LoadProject(ctx)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return cfg.Project()
}

func saveSnapshot(ctx context.Context, c *core.Core, repo repository.Repository) error {
	p, err := c.Snapshot()
	if err != nil {
		return err
	}
	return repo.SaveProject(ctx, &p)
}

// autosave saves the project whenever the persistence observer has pending
// changes. The snapshot is taken on the hub, the write happens off it.
func autosave(ctx context.Context, h *hub.Hub, c *core.Core, repo repository.Repository, logger *zap.Logger) error {
	ticker := time.NewTicker(autosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var (
			p       domain.Project
			pending bool
			snapErr error
		)
		err := h.Do(ctx, func() {
			if !c.Pop(domain.ObserverPersistence, domain.ChangeAll) {
				return
			}
			pending = true
			p, snapErr = c.Snapshot()
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !pending {
			continue
		}
		if snapErr != nil {
			logger.Warn("snapshot failed", zap.Error(snapErr))
			continue
		}
		if err := repo.SaveProject(ctx, &p); err != nil {
			logger.Warn("autosave failed", zap.Error(err))
			continue
		}
		logger.Debug("project saved", zap.Int("entities", len(p.Entities)))
	}
}

// reloadTopology applies the topology of a changed config file on the hub
func reloadTopology(ctx context.Context, h *hub.Hub, c *core.Core, path string, logger *zap.Logger) {
	next, _, err := config.LoadFromPath(path)
	if err != nil {
		logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	tc, err := next.DomainTopology()
	if err != nil {
		logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	var applyErr error
	if err := h.Do(ctx, func() { applyErr = applyTopology(c, tc) }); err != nil {
		logger.Warn("config reload not applied", zap.Error(err))
		return
	}
	if applyErr != nil {
		logger.Warn("config reload partially applied", zap.Error(applyErr))
		return
	}
	logger.Info("topology reloaded", zap.String("mode", string(tc.Mode)))
}

// applyTopology moves the core to tc one step at a time. Endpoints are
// updated before the mode so that a mode needing the secondary finds it.
func applyTopology(c *core.Core, tc domain.TopologyConfig) error {
	current := c.Topology()

	if current.Primary != tc.Primary {
		if err := c.SetEndpoint(domain.ObserverHost, tc.Primary); err != nil {
			return fmt.Errorf("primary: %w", err)
		}
	}
	if tc.Secondary != nil && (current.Secondary == nil || *current.Secondary != *tc.Secondary) {
		if err := c.SetEndpoint(domain.ObserverHost, *tc.Secondary); err != nil {
			return fmt.Errorf("secondary: %w", err)
		}
	}
	if err := c.SetTopologyMode(tc.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if tc.Secondary == nil && current.Secondary != nil {
		if err := c.RemoveSecondary(domain.ObserverHost); err != nil {
			return fmt.Errorf("remove secondary: %w", err)
		}
	}
	if tc.ActiveParallel != "" && tc.ActiveParallel != c.Topology().ActiveParallel {
		if err := c.SetActiveParallel(domain.ObserverHost, tc.ActiveParallel); err != nil {
			return fmt.Errorf("active parallel: %w", err)
		}
	}
	return nil
}
