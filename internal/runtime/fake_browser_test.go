package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/prerender/internal/metrics"
	"github.com/l0p7/prerender/internal/runtime/browser"
	"github.com/l0p7/prerender/internal/runtime/cache"
)

const testOrigin = "https://origin.test"

// fakeBrowser records every session it hands out. Hooks default to a
// successful render of a small document naming the target URL.
type fakeBrowser struct {
	mu          sync.Mutex
	acquired    int
	released    int
	active      int
	maxActive   int
	targets     []string
	timeouts    []browser.Timeouts
	sessionCfgs []browser.SessionConfig

	acquireErr   error
	navigate     func(ctx context.Context, url string) error
	extract      func(ctx context.Context, url string) (string, error)
	releaseErr   error
	releaseDelay time.Duration
}

func (b *fakeBrowser) Acquire(_ context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	b.acquired++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.sessionCfgs = append(b.sessionCfgs, cfg)
	return &fakeSession{browser: b}, nil
}

func (b *fakeBrowser) counts() (acquired, released int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired, b.released
}

func (b *fakeBrowser) peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxActive
}

type fakeSession struct {
	browser  *fakeBrowser
	url      string
	releases int
}

func (s *fakeSession) NavigateAndWaitReady(ctx context.Context, url string, t browser.Timeouts) error {
	s.url = url
	s.browser.mu.Lock()
	s.browser.targets = append(s.browser.targets, url)
	s.browser.timeouts = append(s.browser.timeouts, t)
	hook := s.browser.navigate
	s.browser.mu.Unlock()
	if hook != nil {
		return hook(ctx, url)
	}
	return nil
}

func (s *fakeSession) ExtractContent(ctx context.Context) (string, error) {
	s.browser.mu.Lock()
	hook := s.browser.extract
	s.browser.mu.Unlock()
	if hook != nil {
		return hook(ctx, s.url)
	}
	return pageFor(s.url), nil
}

func (s *fakeSession) Release() error {
	s.browser.mu.Lock()
	s.releases++
	if s.releases > 1 {
		s.browser.mu.Unlock()
		panic("session released twice")
	}
	s.browser.released++
	s.browser.active--
	delay, err := s.browser.releaseDelay, s.browser.releaseErr
	s.browser.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func pageFor(url string) string {
	return fmt.Sprintf("<html><head><title>t</title></head><body><h1>rendered %s</h1></body></html>", url)
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type coordinatorFixture struct {
	coordinator *Coordinator
	browser     *fakeBrowser
	cache       *cache.Memory
	metrics     *metrics.Recorder
	clock       *manualClock
}

type fixtureOption func(*Options, *cache.Options)

func withCapacity(n int) fixtureOption {
	return func(_ *Options, c *cache.Options) { c.Capacity = n }
}

func withFreshness(d time.Duration) fixtureOption {
	return func(_ *Options, c *cache.Options) { c.Freshness = d }
}

func withOptions(fn func(*Options)) fixtureOption {
	return func(o *Options, _ *cache.Options) { fn(o) }
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newFixture(t *testing.T, fb *fakeBrowser, opts ...fixtureOption) *coordinatorFixture {
	t.Helper()
	if fb == nil {
		fb = &fakeBrowser{}
	}
	clock := newManualClock()
	recorder := metrics.NewRecorder(nil)
	cacheOpts := cache.Options{Capacity: 50, Freshness: time.Hour, Clock: clock.Now, OnEvict: func(string) { recorder.ObserveCacheEviction() }}
	options := Options{
		Browser: fb,
		Origin:  testOrigin,
		Profile: Profile{
			Timeouts: browser.Timeouts{
				Navigation:    60 * time.Second,
				Idle:          500 * time.Millisecond,
				Readiness:     10 * time.Second,
				ReadySelector: "body",
			},
			ReleaseTimeout: time.Second,
		},
		Metrics:           recorder,
		CorrelationHeader: "X-Request-ID",
		Clock:             clock.Now,
	}
	for _, opt := range opts {
		opt(&options, &cacheOpts)
	}
	store := cache.NewMemory(cacheOpts)
	options.Cache = store
	coordinator, err := NewCoordinator(newTestLogger(), options)
	require.NoError(t, err)
	return &coordinatorFixture{coordinator: coordinator, browser: fb, cache: store, metrics: recorder, clock: clock}
}

func requireBalanced(t *testing.T, f *coordinatorFixture) {
	t.Helper()
	acquired, released := f.browser.counts()
	require.Equal(t, acquired, released, "every acquired session must be released")
	require.Zero(t, f.coordinator.InflightRenders())
}

func errNavTimeout(ms int) error {
	return fmt.Errorf("%w of %d ms exceeded", browser.ErrNavigationTimeout, ms)
}

var errBoom = errors.New("boom")
