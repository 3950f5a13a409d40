package runtime

import (
	"time"

	"github.com/l0p7/prerender/internal/config"
	"github.com/l0p7/prerender/internal/expr"
	"github.com/l0p7/prerender/internal/runtime/browser"
)

// Profile is the part of the configuration a running coordinator can pick up
// without a restart.
type Profile struct {
	Session        browser.SessionConfig
	Timeouts       browser.Timeouts
	ReleaseTimeout time.Duration
	Minify         bool
	Bypass         *expr.BypassRules
}

// ProfileFromConfig compiles the render profile, including cache bypass rules.
func ProfileFromConfig(cfg config.Config) (Profile, error) {
	bypass, err := expr.CompileBypass(cfg.Cache.Bypass)
	if err != nil {
		return Profile{}, err
	}
	r := cfg.Render
	return Profile{
		Session: browser.SessionConfig{
			Viewport:       browser.Viewport{Width: r.Viewport.Width, Height: r.Viewport.Height},
			UserAgent:      r.UserAgent,
			AcceptLanguage: r.AcceptLanguage,
			Referer:        r.Referer,
		},
		Timeouts: browser.Timeouts{
			Navigation:    r.NavigationTimeout(),
			Idle:          r.IdleWindow(),
			Readiness:     r.ReadinessTimeout(),
			ReadySelector: r.ReadySelector,
		},
		ReleaseTimeout: r.ReleaseTimeout(),
		Minify:         r.Minify,
		Bypass:         bypass,
	}, nil
}

func (p Profile) withDefaults() Profile {
	if p.Timeouts.Navigation <= 0 {
		p.Timeouts.Navigation = 60 * time.Second
	}
	if p.Timeouts.Readiness <= 0 {
		p.Timeouts.Readiness = 10 * time.Second
	}
	if p.Timeouts.ReadySelector == "" {
		p.Timeouts.ReadySelector = "body"
	}
	if p.ReleaseTimeout <= 0 {
		p.ReleaseTimeout = 10 * time.Second
	}
	return p
}
