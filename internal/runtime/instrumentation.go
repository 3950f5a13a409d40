package runtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/prerender/internal/metrics"
	"github.com/l0p7/prerender/internal/runtime/browser"
)

// trackedSession guards a browser session so it is released exactly once and
// keeps the active session gauge honest.
type trackedSession struct {
	browser.Session

	logger  *slog.Logger
	metrics *metrics.Recorder
	timeout time.Duration
	once    sync.Once
	onDone  func()
}

func (c *Coordinator) track(session browser.Session, logger *slog.Logger, timeout time.Duration) *trackedSession {
	c.metrics.SessionAcquired()
	c.activeSessions.Add(1)
	return &trackedSession{
		Session: session,
		logger:  logger,
		metrics: c.metrics,
		timeout: timeout,
		onDone:  func() { c.activeSessions.Add(-1) },
	}
}

// release runs the underlying Release at most once and never waits longer
// than the release timeout. Failures are logged and counted, not returned.
func (s *trackedSession) release() {
	s.once.Do(func() {
		defer s.onDone()
		start := time.Now()
		done := make(chan error, 1)
		go func() { done <- s.Session.Release() }()

		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case err := <-done:
			latency := slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond))
			if err != nil {
				s.logger.Error("browser session release failed", slog.Any("error", err), latency)
				s.metrics.SessionReleased(metrics.ReleaseError)
				return
			}
			s.logger.Debug("browser session released", latency)
			s.metrics.SessionReleased(metrics.ReleaseOK)
		case <-timer.C:
			s.logger.Error("browser session release timed out", slog.Duration("timeout", s.timeout))
			s.metrics.SessionReleased(metrics.ReleaseTimeout)
		}
	})
}
