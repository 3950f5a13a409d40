package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PortEnv is the bare listen port variable most PaaS runtimes inject. It is
// consulted only when the prefixed listen port override is absent.
const PortEnv = "PORT"

// canonicalKeys restores camelCase koanf paths that env var names flatten.
var canonicalKeys = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"server.shutdowntimeoutms":         "server.shutdownTimeoutMs",
	"cache.freshnessseconds":           "cache.freshnessSeconds",
	"cache.honornocache":               "cache.honorNoCache",
	"render.navigationtimeoutms":       "render.navigationTimeoutMs",
	"render.readinesstimeoutms":        "render.readinessTimeoutMs",
	"render.idlewindowms":              "render.idleWindowMs",
	"render.releasetimeoutms":          "render.releaseTimeoutMs",
	"render.readyselector":             "render.readySelector",
	"render.maxconcurrent":             "render.maxConcurrent",
	"render.useragent":                 "render.userAgent",
	"render.acceptlanguage":            "render.acceptLanguage",
	"browser.nosandbox":                "browser.noSandbox",
}

// listFields are split on commas when they arrive through the environment.
var listFields = map[string]bool{
	"cache.bypass":       true,
	"browser.flags":      true,
	"browser.candidates": true,
}

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the non-empty configuration files the loader reads.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if strings.TrimSpace(path) != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective configuration using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	portOverridden := false
	if l.envPrefix != "" {
		transform := func(key, value string) (string, any) {
			// Double underscores signal a nested path (PRERENDER_SERVER__LISTEN__PORT -> server.listen.port).
			key = strings.TrimPrefix(key, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				lower = mapped
			} else {
				lower = strings.ReplaceAll(lower, "_", "")
			}
			if lower == "server.listen.port" {
				portOverridden = true
			}
			if listFields[lower] {
				return lower, splitList(value)
			}
			return lower, value
		}
		if err := k.Load(env.ProviderWithValue(l.envPrefix+"_", ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	if !portOverridden {
		if raw := strings.TrimSpace(os.Getenv(PortEnv)); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s invalid: %q", PortEnv, raw)
			}
			if err := k.Set("server.listen.port", port); err != nil {
				return Config{}, fmt.Errorf("config: apply %s: %w", PortEnv, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Upstream.Origin = strings.TrimRight(strings.TrimSpace(cfg.Upstream.Origin), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file format %s", path)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"metrics": map[string]any{
				"path": cfg.Server.Metrics.Path,
			},
			"shutdownTimeoutMs": cfg.Server.ShutdownTimeoutMs,
		},
		"upstream": map[string]any{
			"origin": cfg.Upstream.Origin,
		},
		"cache": map[string]any{
			"capacity":         cfg.Cache.Capacity,
			"freshnessSeconds": cfg.Cache.FreshnessSeconds,
			"honorNoCache":     cfg.Cache.HonorNoCache,
			"bypass":           cfg.Cache.Bypass,
		},
		"render": map[string]any{
			"navigationTimeoutMs": cfg.Render.NavigationTimeoutMs,
			"readinessTimeoutMs":  cfg.Render.ReadinessTimeoutMs,
			"idleWindowMs":        cfg.Render.IdleWindowMs,
			"releaseTimeoutMs":    cfg.Render.ReleaseTimeoutMs,
			"readySelector":       cfg.Render.ReadySelector,
			"minify":              cfg.Render.Minify,
			"coalesce":            cfg.Render.Coalesce,
			"maxConcurrent":       cfg.Render.MaxConcurrent,
			"userAgent":           cfg.Render.UserAgent,
			"acceptLanguage":      cfg.Render.AcceptLanguage,
			"referer":             cfg.Render.Referer,
			"viewport": map[string]any{
				"width":  cfg.Render.Viewport.Width,
				"height": cfg.Render.Viewport.Height,
			},
		},
		"browser": map[string]any{
			"bin":        cfg.Browser.Bin,
			"headless":   cfg.Browser.Headless,
			"noSandbox":  cfg.Browser.NoSandbox,
			"flags":      cfg.Browser.Flags,
			"candidates": cfg.Browser.Candidates,
		},
	}
}
