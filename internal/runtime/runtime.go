package runtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tdewolff/minify/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/prerender/internal/metrics"
	"github.com/l0p7/prerender/internal/runtime/browser"
	"github.com/l0p7/prerender/internal/runtime/cache"
	"github.com/l0p7/prerender/internal/runtime/pipeline"
)

// CacheStatus reports where a rendered page came from. It is echoed in the
// X-Cache response header.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// Rendered is the outcome of RenderPage.
type Rendered struct {
	HTML        string
	CacheStatus CacheStatus
	Key         string
	CreatedAt   time.Time
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Cache             *cache.Memory
	Browser           browser.Browser
	Origin            string
	Profile           Profile
	Metrics           *metrics.Recorder
	CorrelationHeader string
	// HonorNoCache lets a caller's Cache-Control: no-cache force a re-render
	// whose result still refreshes the cache.
	HonorNoCache bool
	// Coalesce makes concurrent misses for one key share a single attempt.
	Coalesce bool
	// MaxConcurrent caps simultaneous browser sessions; zero means unbounded.
	MaxConcurrent int
	Clock         func() time.Time
}

// Coordinator answers render requests from the cache or by driving one
// browser session per miss.
type Coordinator struct {
	logger            *slog.Logger
	cache             *cache.Memory
	browser           browser.Browser
	origin            string
	metrics           *metrics.Recorder
	correlationHeader string
	honorNoCache      bool
	coalesce          bool
	sem               *semaphore.Weighted
	group             singleflight.Group
	minifier          *minify.M
	now               func() time.Time
	startedAt         time.Time

	profile        atomic.Pointer[Profile]
	activeSessions atomic.Int64

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	// attempts derive from base so Close can abort them once the drain
	// deadline passes.
	base       context.Context
	cancelBase context.CancelFunc
}

type lookupMode int

const (
	// useCache serves fresh snapshots and stores new renders.
	useCache lookupMode = iota
	// refreshCache skips the lookup but stores the render.
	refreshCache
	// bypassCache neither reads nor writes the cache.
	bypassCache
)

// NewCoordinator builds a coordinator. A nil cache gets the package defaults.
func NewCoordinator(logger *slog.Logger, opts Options) (*Coordinator, error) {
	if opts.Browser == nil {
		return nil, errors.New("runtime: browser required")
	}
	origin := strings.TrimRight(strings.TrimSpace(opts.Origin), "/")
	if origin == "" {
		return nil, errors.New("runtime: origin required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	store := opts.Cache
	if store == nil {
		store = cache.NewMemory(cache.Options{Clock: cache.Clock(now)})
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:            logger.With(slog.String("agent", "coordinator")),
		cache:             store,
		browser:           opts.Browser,
		origin:            origin,
		metrics:           opts.Metrics,
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		honorNoCache:      opts.HonorNoCache,
		coalesce:          opts.Coalesce,
		minifier:          newMinifier(),
		now:               now,
		startedAt:         now(),
		base:              base,
		cancelBase:        cancel,
	}
	if opts.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	profile := opts.Profile.withDefaults()
	c.profile.Store(&profile)
	return c, nil
}

// UpdateProfile swaps the render profile. Attempts already running keep the
// profile they started with.
func (c *Coordinator) UpdateProfile(p Profile) {
	p = p.withDefaults()
	c.profile.Store(&p)
	c.logger.Info("render profile updated",
		slog.Duration("navigation_timeout", p.Timeouts.Navigation),
		slog.Duration("readiness_timeout", p.Timeouts.Readiness),
		slog.String("ready_selector", p.Timeouts.ReadySelector),
		slog.Int("bypass_rules", p.Bypass.Len()),
		slog.Bool("minify", p.Minify),
	)
}

// Profile returns the active render profile.
func (c *Coordinator) Profile() Profile {
	return *c.profile.Load()
}

// Cache exposes the render cache for health reporting and shutdown.
func (c *Coordinator) Cache() *cache.Memory { return c.cache }

// InflightRenders reports browser sessions acquired and not yet released.
func (c *Coordinator) InflightRenders() int64 { return c.activeSessions.Load() }

// RenderPage returns the rendered HTML of origin+requestURI, from the cache
// when a fresh snapshot exists.
func (c *Coordinator) RenderPage(ctx context.Context, requestURI string) (Rendered, error) {
	return c.render(ctx, requestURI, useCache, "")
}

func (c *Coordinator) render(ctx context.Context, requestURI string, mode lookupMode, correlationID string) (Rendered, error) {
	target := targetURL(c.origin, requestURI)
	key := target

	switch mode {
	case useCache:
		if snapshot, ok := c.cache.Lookup(key); ok {
			c.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
			return Rendered{HTML: snapshot.HTML, CacheStatus: CacheHit, Key: key, CreatedAt: snapshot.CreatedAt}, nil
		}
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	case refreshCache:
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	case bypassCache:
		c.metrics.ObserveCacheLookup(metrics.CacheLookupBypass)
		markup, err := c.attempt(ctx, target, correlationID)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{HTML: markup, CacheStatus: CacheBypass, Key: key, CreatedAt: c.now()}, nil
	}

	renderAndStore := func() (Rendered, error) {
		markup, err := c.attempt(ctx, target, correlationID)
		if err != nil {
			return Rendered{}, err
		}
		snapshot := c.cache.Insert(key, markup)
		c.metrics.ObserveCacheInsert(c.cache.Size())
		return Rendered{HTML: snapshot.HTML, CacheStatus: CacheMiss, Key: key, CreatedAt: snapshot.CreatedAt}, nil
	}
	if !c.coalesce {
		return renderAndStore()
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		return renderAndStore()
	})
	if shared {
		c.logger.Debug("render coalesced", slog.String("target", target))
	}
	if err != nil {
		return Rendered{}, err
	}
	return v.(Rendered), nil
}

// begin registers an attempt with the drain group and returns a context that
// ignores caller cancellation but dies with the coordinator.
func (c *Coordinator) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil, nil, ErrShuttingDown
	}
	c.inflight.Add(1)
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.base, cancel)
	return attemptCtx, func() {
		stop()
		cancel()
		c.inflight.Done()
	}, nil
}

// attempt runs one render attempt and always leaves its session released.
func (c *Coordinator) attempt(ctx context.Context, target, correlationID string) (string, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", newRenderError(pipeline.StageIdle, target, err)
		}
		defer c.sem.Release(1)
	}
	attemptCtx, finish, err := c.begin(ctx)
	if err != nil {
		return "", newRenderError(pipeline.StageIdle, target, err)
	}
	defer finish()

	profile := c.Profile()
	att := pipeline.NewAttempt(uuid.NewString(), target, c.now)
	logger := c.logger.With(slog.String("target", target), slog.String("attempt_id", att.ID))
	if correlationID != "" {
		logger = logger.With(slog.String("correlation_id", correlationID))
	}

	markup, renderErr := c.run(attemptCtx, att, profile, logger)

	outcome := "success"
	if renderErr != nil {
		outcome = string(renderErr.Kind)
	}
	elapsed := att.Elapsed()
	c.metrics.ObserveRender(outcome, elapsed)
	attrs := []slog.Attr{
		slog.String("outcome", outcome),
		slog.Float64("latency_ms", float64(elapsed)/float64(time.Millisecond)),
	}
	if logger.Enabled(attemptCtx, slog.LevelDebug) {
		attrs = append(attrs, slog.Any("stages", summarizeHistory(att.History())))
	}
	if renderErr != nil {
		attrs = append(attrs, slog.String("stage", string(renderErr.Stage)), slog.Any("error", renderErr.Err))
		logger.LogAttrs(attemptCtx, slog.LevelWarn, "render failed", attrs...)
		return "", renderErr
	}
	logger.LogAttrs(attemptCtx, slog.LevelInfo, "render completed", attrs...)
	return markup, nil
}

func (c *Coordinator) run(ctx context.Context, att *pipeline.Attempt, profile Profile, logger *slog.Logger) (string, *RenderError) {
	advance := func(next pipeline.Stage) {
		if err := att.Advance(next); err != nil {
			logger.Error("render state machine rejected transition", slog.Any("error", err))
			return
		}
		logger.Debug("render stage", slog.String("stage", string(next)))
	}
	fail := func(stage pipeline.Stage, session *trackedSession, err error) (string, *RenderError) {
		att.Fail()
		if session != nil {
			session.release()
		}
		advance(pipeline.StageReleased)
		return "", newRenderError(stage, att.Target, err)
	}

	advance(pipeline.StageAcquiring)
	raw, err := c.browser.Acquire(ctx, profile.Session)
	if err != nil {
		return fail(pipeline.StageAcquiring, nil, err)
	}
	session := c.track(raw, logger, profile.ReleaseTimeout)
	// Covers panics in the collaborator; release is idempotent.
	defer session.release()

	advance(pipeline.StageNavigating)
	if err := session.NavigateAndWaitReady(ctx, att.Target, profile.Timeouts); err != nil {
		return fail(pipeline.StageNavigating, session, err)
	}

	advance(pipeline.StageExtracting)
	markup, err := session.ExtractContent(ctx)
	if err != nil {
		return fail(pipeline.StageExtracting, session, err)
	}
	if err := verifyDocument(markup, profile.Timeouts.ReadySelector); err != nil {
		return fail(pipeline.StageExtracting, session, err)
	}

	session.release()
	advance(pipeline.StageReleased)

	if profile.Minify {
		minified, err := c.minifier.String("text/html", markup)
		if err != nil {
			logger.Warn("html minify failed, serving original markup", slog.Any("error", err))
		} else {
			markup = minified
		}
	}
	return markup, nil
}

// Close stops new renders, waits for in-flight attempts until ctx is done,
// cancels whatever is still running and clears the cache. It is safe to call
// more than once.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		c.logger.Warn("drain deadline reached, cancelling in-flight renders",
			slog.Int64("active_sessions", c.activeSessions.Load()))
		c.cancelBase()
		<-drained
		err = ctx.Err()
	}
	c.cancelBase()
	c.cache.Clear()
	c.metrics.SetCacheEntries(0)
	c.logger.Info("render coordinator closed")
	return err
}

func summarizeHistory(history []pipeline.Transition) []map[string]any {
	if len(history) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(history))
	for _, tr := range history {
		out = append(out, map[string]any{
			"from":        string(tr.From),
			"to":          string(tr.To),
			"duration_ms": float64(tr.Took) / float64(time.Millisecond),
		})
	}
	return out
}
