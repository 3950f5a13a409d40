package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodOptions describes how each session's browser process is launched.
type RodOptions struct {
	Bin       string
	Headless  bool
	NoSandbox bool
	// Flags are Chrome switches without the leading dashes, optionally as
	// name=value.
	Flags []string
}

// Rod launches a dedicated headless browser process per session. Nothing is
// pooled: Release tears the process down.
type Rod struct {
	opts   RodOptions
	logger *slog.Logger
}

// NewRod validates the launch options. The binary must already be resolved,
// see FindExecutable; rod's automatic download is never used.
func NewRod(opts RodOptions, logger *slog.Logger) (*Rod, error) {
	if strings.TrimSpace(opts.Bin) == "" {
		return nil, fmt.Errorf("browser: %w", ErrNotFound)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rod{opts: opts, logger: logger.With(slog.String("agent", "browser"))}, nil
}

func (r *Rod) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Bin(r.opts.Bin).
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox).
		Leakless(false)
	for _, raw := range r.opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(raw), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Acquire launches a browser, opens a blank page and applies cfg. On any
// failure everything started so far is torn down before returning.
func (r *Rod) Acquire(ctx context.Context, cfg SessionConfig) (Session, error) {
	l := r.newLauncher().Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		// Cleanup waits for the process to exit, which never happens when it
		// failed to start, so only Kill here.
		l.Kill()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	s := &rodSession{launcher: l, logger: r.logger}
	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.browser = nil
		_ = s.Release()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Release()
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	s.page = page

	if err := s.configure(ctx, cfg); err != nil {
		_ = s.Release()
		return nil, err
	}
	return s, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *slog.Logger
}

func (s *rodSession) configure(ctx context.Context, cfg SessionConfig) error {
	page := s.page.Context(ctx)
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Viewport.Width,
			Height:            cfg.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("browser: set viewport: %w", err)
		}
	}
	if cfg.UserAgent != "" || cfg.AcceptLanguage != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
		}); err != nil {
			return fmt.Errorf("browser: set user agent: %w", err)
		}
	}
	var headers []string
	if cfg.AcceptLanguage != "" {
		headers = append(headers, "Accept-Language", cfg.AcceptLanguage)
	}
	if cfg.Referer != "" {
		headers = append(headers, "Referer", cfg.Referer)
	}
	if len(headers) > 0 {
		// The restore func only matters for reused pages; this one dies with the session.
		if _, err := page.SetExtraHeaders(headers); err != nil {
			return fmt.Errorf("browser: set extra headers: %w", err)
		}
	}
	return nil
}

func (s *rodSession) NavigateAndWaitReady(ctx context.Context, url string, t Timeouts) error {
	navCtx, cancelNav := context.WithTimeout(ctx, t.Navigation)
	defer cancelNav()

	page := s.page.Context(navCtx)
	waitIdle := page.WaitRequestIdle(t.Idle, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return navigationError(ctx, navCtx, t.Navigation, err)
	}
	waitIdle()
	if err := navCtx.Err(); err != nil {
		return navigationError(ctx, navCtx, t.Navigation, err)
	}

	selector := t.ReadySelector
	if selector == "" {
		selector = "body"
	}
	readyCtx, cancelReady := context.WithTimeout(ctx, t.Readiness)
	defer cancelReady()
	if _, err := s.page.Context(readyCtx).Element(selector); err != nil {
		if ctx.Err() == nil && errors.Is(readyCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting for selector %q failed after %d ms", ErrReadinessTimeout, selector, t.Readiness.Milliseconds())
		}
		return fmt.Errorf("browser: wait for %q: %w", selector, err)
	}
	return nil
}

// navigationError separates a stage timeout from the caller's own
// cancellation and from network failures the browser reports as net::ERR_*.
func navigationError(parent, nav context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("browser: navigate: %w", parent.Err())
	}
	if errors.Is(nav.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w of %d ms exceeded", ErrNavigationTimeout, timeout.Milliseconds())
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, navErr.Reason)
	}
	return fmt.Errorf("browser: navigate: %w", err)
}

func (s *rodSession) ExtractContent(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: extract html: %w", err)
	}
	return html, nil
}

// Release closes the page and browser, then kills the process and removes its
// profile directory regardless of how the polite shutdown went.
func (s *rodSession) Release() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Context(context.Background()).Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close page: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Context(context.Background()).Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close browser: %w", err))
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Debug("browser release reported errors", slog.Any("error", err))
	}
	return err
}
