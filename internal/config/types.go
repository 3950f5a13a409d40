package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgent is a current desktop Chrome string. Upstream bot mitigation
// tends to wave these through where the headless default is challenged.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds every option the prerender process reads at startup.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Render   RenderConfig   `koanf:"render"`
	Browser  BrowserConfig  `koanf:"browser"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle server.
type ServerConfig struct {
	Listen            ListenConfig  `koanf:"listen"`
	Logging           LoggingConfig `koanf:"logging"`
	Metrics           MetricsConfig `koanf:"metrics"`
	ShutdownTimeoutMs int           `koanf:"shutdownTimeoutMs"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// MetricsConfig controls where the Prometheus exposition is mounted. An empty
// path disables the route.
type MetricsConfig struct {
	Path string `koanf:"path"`
}

// UpstreamConfig names the single origin every request path is rendered against.
type UpstreamConfig struct {
	Origin string `koanf:"origin"`
}

// CacheConfig bounds the render cache.
type CacheConfig struct {
	Capacity         int      `koanf:"capacity"`
	FreshnessSeconds int      `koanf:"freshnessSeconds"`
	HonorNoCache     bool     `koanf:"honorNoCache"`
	Bypass           []string `koanf:"bypass"`
}

// RenderConfig shapes a single render attempt.
type RenderConfig struct {
	NavigationTimeoutMs int            `koanf:"navigationTimeoutMs"`
	ReadinessTimeoutMs  int            `koanf:"readinessTimeoutMs"`
	IdleWindowMs        int            `koanf:"idleWindowMs"`
	ReleaseTimeoutMs    int            `koanf:"releaseTimeoutMs"`
	ReadySelector       string         `koanf:"readySelector"`
	Minify              bool           `koanf:"minify"`
	Coalesce            bool           `koanf:"coalesce"`
	MaxConcurrent       int            `koanf:"maxConcurrent"`
	UserAgent           string         `koanf:"userAgent"`
	AcceptLanguage      string         `koanf:"acceptLanguage"`
	Referer             string         `koanf:"referer"`
	Viewport            ViewportConfig `koanf:"viewport"`
}

// ViewportConfig is the emulated window size of every render session.
type ViewportConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// BrowserConfig describes how the headless browser binary is found and launched.
type BrowserConfig struct {
	Bin        string   `koanf:"bin"`
	Headless   bool     `koanf:"headless"`
	NoSandbox  bool     `koanf:"noSandbox"`
	Flags      []string `koanf:"flags"`
	Candidates []string `koanf:"candidates"`
}

// Freshness returns the cache freshness window.
func (c CacheConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessSeconds) * time.Second
}

func (r RenderConfig) NavigationTimeout() time.Duration {
	return time.Duration(r.NavigationTimeoutMs) * time.Millisecond
}

func (r RenderConfig) ReadinessTimeout() time.Duration {
	return time.Duration(r.ReadinessTimeoutMs) * time.Millisecond
}

func (r RenderConfig) IdleWindow() time.Duration {
	return time.Duration(r.IdleWindowMs) * time.Millisecond
}

func (r RenderConfig) ReleaseTimeout() time.Duration {
	return time.Duration(r.ReleaseTimeoutMs) * time.Millisecond
}

// ShutdownTimeout bounds how long in-flight renders are drained on exit.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.ShutdownTimeoutMs < 0 {
		return fmt.Errorf("config: server.shutdownTimeoutMs invalid: %d", c.Server.ShutdownTimeoutMs)
	}
	if path := strings.TrimSpace(c.Server.Metrics.Path); path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("config: server.metrics.path must start with /: %s", path)
	}
	if err := validateOrigin(c.Upstream.Origin); err != nil {
		return err
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("config: cache.capacity invalid: %d", c.Cache.Capacity)
	}
	if c.Cache.FreshnessSeconds < 1 {
		return fmt.Errorf("config: cache.freshnessSeconds invalid: %d", c.Cache.FreshnessSeconds)
	}
	for i, expr := range c.Cache.Bypass {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("config: cache.bypass[%d] empty", i)
		}
	}
	r := c.Render
	if r.NavigationTimeoutMs <= 0 {
		return fmt.Errorf("config: render.navigationTimeoutMs invalid: %d", r.NavigationTimeoutMs)
	}
	if r.ReadinessTimeoutMs <= 0 {
		return fmt.Errorf("config: render.readinessTimeoutMs invalid: %d", r.ReadinessTimeoutMs)
	}
	if r.IdleWindowMs < 0 {
		return fmt.Errorf("config: render.idleWindowMs invalid: %d", r.IdleWindowMs)
	}
	if r.ReleaseTimeoutMs <= 0 {
		return fmt.Errorf("config: render.releaseTimeoutMs invalid: %d", r.ReleaseTimeoutMs)
	}
	if strings.TrimSpace(r.ReadySelector) == "" {
		return errors.New("config: render.readySelector required")
	}
	if r.MaxConcurrent < 0 {
		return fmt.Errorf("config: render.maxConcurrent invalid: %d", r.MaxConcurrent)
	}
	if r.Viewport.Width <= 0 || r.Viewport.Height <= 0 {
		return fmt.Errorf("config: render.viewport invalid: %dx%d", r.Viewport.Width, r.Viewport.Height)
	}
	return nil
}

func validateOrigin(origin string) error {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return errors.New("config: upstream.origin required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("config: upstream.origin invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: upstream.origin scheme unsupported: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: upstream.origin missing host: %s", origin)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("config: upstream.origin must not carry a query or fragment: %s", origin)
	}
	return nil
}

// DefaultConfig returns the baseline values of a single-origin deployment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    10000,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Metrics:           MetricsConfig{Path: "/metrics"},
			ShutdownTimeoutMs: 10000,
		},
		Upstream: UpstreamConfig{
			Origin: "https://needflex.site",
		},
		Cache: CacheConfig{
			Capacity:         50,
			FreshnessSeconds: 3600,
		},
		Render: RenderConfig{
			NavigationTimeoutMs: 60000,
			ReadinessTimeoutMs:  10000,
			IdleWindowMs:        500,
			ReleaseTimeoutMs:    10000,
			ReadySelector:       "body",
			UserAgent:           DefaultUserAgent,
			AcceptLanguage:      "en-US,en;q=0.9",
			Referer:             "https://google.com",
			Viewport:            ViewportConfig{Width: 1280, Height: 720},
		},
		Browser: BrowserConfig{
			Headless:  true,
			NoSandbox: true,
			Flags: []string{
				"disable-setuid-sandbox",
				"disable-dev-shm-usage",
				"disable-gpu",
				"disable-software-rasterizer",
				"disable-extensions",
				"disable-background-networking",
				"disable-default-apps",
				"disable-sync",
				"metrics-recording-only",
				"mute-audio",
				"no-first-run",
				"safebrowsing-disable-auto-update",
				"disable-features=site-per-process",
				"single-process",
			},
			Candidates: []string{
				"/usr/bin/google-chrome-stable",
				"/usr/bin/chromium-browser",
				"/usr/bin/chromium",
			},
		},
	}
}
