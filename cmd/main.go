package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/prerender/internal/config"
	"github.com/l0p7/prerender/internal/logging"
	"github.com/l0p7/prerender/internal/metrics"
	"github.com/l0p7/prerender/internal/runtime"
	"github.com/l0p7/prerender/internal/runtime/browser"
	"github.com/l0p7/prerender/internal/runtime/cache"
	"github.com/l0p7/prerender/internal/server"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
	Watch(context.Context, func(config.Config), func(error)) (*config.Watcher, error)
	Files() []string
}

type runnableServer interface {
	Run(context.Context) error
}

// Seams replaced by tests.
var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return config.NewLoader(envPrefix, configFile)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
	newBrowser = buildBrowser
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PRERENDER", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	renderCache := buildCache(cfg.Cache, recorder)

	b, err := newBrowser(cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}

	profile, err := runtime.ProfileFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("render profile: %w", err)
	}
	coordinator, err := runtime.NewCoordinator(logger, runtime.Options{
		Cache:             renderCache,
		Browser:           b,
		Origin:            cfg.Upstream.Origin,
		Profile:           profile,
		Metrics:           recorder,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		HonorNoCache:      cfg.Cache.HonorNoCache,
		Coalesce:          cfg.Render.Coalesce,
		MaxConcurrent:     cfg.Render.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := coordinator.Close(drainCtx); err != nil {
			logger.Error("render drain incomplete", slog.Any("error", err))
		}
	}()

	if len(loader.Files()) > 0 {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			applyReload(logger, coordinator, cfg, next)
		}, func(err error) {
			logger.Error("config watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := buildHandler(cfg, coordinator, recorder)
	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	logger.Info("prerender starting",
		slog.String("origin", cfg.Upstream.Origin),
		slog.Int("cache_capacity", cfg.Cache.Capacity),
		slog.Duration("cache_freshness", cfg.Cache.Freshness()),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated unexpectedly: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

func buildCache(cfg config.CacheConfig, recorder *metrics.Recorder) *cache.Memory {
	return cache.NewMemory(cache.Options{
		Capacity:  cfg.Capacity,
		Freshness: cfg.Freshness(),
		OnEvict:   func(string) { recorder.ObserveCacheEviction() },
	})
}

func buildBrowser(cfg config.BrowserConfig, logger *slog.Logger) (browser.Browser, error) {
	bin, err := browser.FindExecutable(cfg.Bin, cfg.Candidates, nil)
	if err != nil {
		return nil, err
	}
	logger.Info("browser executable resolved", slog.String("bin", bin))
	return browser.NewRod(browser.RodOptions{
		Bin:       bin,
		Headless:  cfg.Headless,
		NoSandbox: cfg.NoSandbox,
		Flags:     cfg.Flags,
	}, logger)
}

func buildHandler(cfg config.Config, coordinator *runtime.Coordinator, recorder *metrics.Recorder) http.Handler {
	opts := server.RouterOptions{HealthPath: "/health"}
	if cfg.Server.Metrics.Path != "" {
		opts.MetricsPath = cfg.Server.Metrics.Path
		opts.Metrics = recorder.Handler()
	}
	return server.NewRenderHandler(coordinator, opts)
}

// applyReload pushes the hot-reloadable part of next to the coordinator and
// warns about settings that only take effect after a restart.
func applyReload(logger *slog.Logger, coordinator *runtime.Coordinator, current, next config.Config) {
	profile, err := runtime.ProfileFromConfig(next)
	if err != nil {
		logger.Error("config reload rejected", slog.Any("error", err))
		return
	}
	coordinator.UpdateProfile(profile)
	if changed := restartRequired(current, next); len(changed) > 0 {
		logger.Warn("config changes require a restart", slog.Any("settings", changed))
	}
}

func restartRequired(current, next config.Config) []string {
	var changed []string
	if current.Server.Listen != next.Server.Listen {
		changed = append(changed, "server.listen")
	}
	if current.Server.Logging != next.Server.Logging {
		changed = append(changed, "server.logging")
	}
	if current.Server.Metrics != next.Server.Metrics {
		changed = append(changed, "server.metrics")
	}
	if current.Upstream != next.Upstream {
		changed = append(changed, "upstream.origin")
	}
	if current.Cache.Capacity != next.Cache.Capacity || current.Cache.FreshnessSeconds != next.Cache.FreshnessSeconds || current.Cache.HonorNoCache != next.Cache.HonorNoCache {
		changed = append(changed, "cache")
	}
	if current.Render.Coalesce != next.Render.Coalesce || current.Render.MaxConcurrent != next.Render.MaxConcurrent {
		changed = append(changed, "render.coalesce/maxConcurrent")
	}
	if !equalBrowser(current.Browser, next.Browser) {
		changed = append(changed, "browser")
	}
	return changed
}

func equalBrowser(a, b config.BrowserConfig) bool {
	return a.Bin == b.Bin && a.Headless == b.Headless && a.NoSandbox == b.NoSandbox &&
		slices.Equal(a.Flags, b.Flags) && slices.Equal(a.Candidates, b.Candidates)
}
