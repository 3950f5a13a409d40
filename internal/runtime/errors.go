package runtime

import (
	"context"
	"errors"

	"github.com/l0p7/prerender/internal/runtime/browser"
	"github.com/l0p7/prerender/internal/runtime/pipeline"
)

// ErrorKind classifies why a render attempt failed.
type ErrorKind string

const (
	KindSessionAcquisition  ErrorKind = "session_acquisition"
	KindNavigationTimeout   ErrorKind = "navigation_timeout"
	KindReadinessTimeout    ErrorKind = "readiness_timeout"
	KindExtraction          ErrorKind = "extraction"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindRenderFailed        ErrorKind = "render_failed"
	KindCanceled            ErrorKind = "canceled"
	KindShuttingDown        ErrorKind = "shutting_down"
)

var (
	// ErrShuttingDown is returned for renders requested after Close began.
	ErrShuttingDown = errors.New("prerender is shutting down")
	// ErrEmptyDocument means the browser serialized an empty document.
	ErrEmptyDocument = errors.New("extracted document is empty")
	// ErrIncompleteDocument means the extracted markup lacks the ready selector.
	ErrIncompleteDocument = errors.New("extracted document incomplete")
)

// RenderError describes a failed render attempt. Its message is what callers
// see after the "Prerender error: " prefix.
type RenderError struct {
	Kind   ErrorKind
	Stage  pipeline.Stage
	Target string
	Err    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newRenderError(stage pipeline.Stage, target string, err error) *RenderError {
	return &RenderError{Kind: classify(stage, err), Stage: stage, Target: target, Err: err}
}

// classify prefers the sentinels the browser wraps its errors with and falls
// back to the stage the attempt was in.
func classify(stage pipeline.Stage, err error) ErrorKind {
	switch {
	case errors.Is(err, ErrShuttingDown):
		return KindShuttingDown
	case errors.Is(err, browser.ErrNavigationTimeout):
		return KindNavigationTimeout
	case errors.Is(err, browser.ErrReadinessTimeout):
		return KindReadinessTimeout
	case errors.Is(err, browser.ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrEmptyDocument), errors.Is(err, ErrIncompleteDocument):
		return KindExtraction
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded) && stage == pipeline.StageNavigating:
		return KindNavigationTimeout
	}
	switch stage {
	case pipeline.StageAcquiring:
		return KindSessionAcquisition
	case pipeline.StageExtracting:
		return KindExtraction
	}
	return KindRenderFailed
}

// errorMessage renders err for the HTTP body.
func errorMessage(err error) string {
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
