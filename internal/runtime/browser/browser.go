// Package browser is the capability boundary between the render coordinator
// and the headless browser. The coordinator sees only Browser and Session; the
// go-rod implementation lives in rod.go.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNavigationTimeout means the page did not reach network idle in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrReadinessTimeout means the page settled but the ready selector never appeared.
	ErrReadinessTimeout = errors.New("readiness timeout")
	// ErrUpstreamUnavailable means the browser could not reach the origin at all.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound means no browser executable could be located.
	ErrNotFound = errors.New("browser executable not found")
)

// Viewport is the emulated window size.
type Viewport struct {
	Width  int
	Height int
}

// SessionConfig is applied to a session before it navigates anywhere.
type SessionConfig struct {
	Viewport       Viewport
	UserAgent      string
	AcceptLanguage string
	Referer        string
}

// Timeouts bound the stages of NavigateAndWaitReady.
type Timeouts struct {
	// Navigation bounds navigation plus the network-idle wait.
	Navigation time.Duration
	// Idle is the quiet period without requests that counts as settled.
	Idle time.Duration
	// Readiness bounds the wait for ReadySelector after the network settles.
	Readiness     time.Duration
	ReadySelector string
}

// Browser hands out render sessions. Implementations must return sessions that
// are fully independent of each other.
type Browser interface {
	Acquire(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one browser page owned by exactly one render attempt.
type Session interface {
	// NavigateAndWaitReady loads url, waits for the network to settle and then
	// for the ready selector. Timeouts are reported with ErrNavigationTimeout
	// or ErrReadinessTimeout in the chain.
	NavigateAndWaitReady(ctx context.Context, url string, t Timeouts) error
	// ExtractContent serializes the current document.
	ExtractContent(ctx context.Context) (string, error)
	// Release closes the page and everything launched for it. Callers invoke
	// it exactly once.
	Release() error
}
